//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func devNullBus(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	b := &Bus{f: f, path: "/dev/null"}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDevTx_InvalidAddr(t *testing.T) {
	b := devNullBus(t)
	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestDevTx_EmptyIsNoop(t *testing.T) {
	d := devNullBus(t).Dev(0x68)
	n, err := d.tx(nil, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
	if d.Addr() != 0x68 {
		t.Fatalf("addr=0x%X", d.Addr())
	}
}

func TestDevTx_ClosedBus(t *testing.T) {
	b := devNullBus(t)
	d := b.Dev(0x0C)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	err := d.WriteReg(0x31, 0x08)
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("err=%v want closed", err)
	}
}

func TestBusPath(t *testing.T) {
	if got := BusPath(1); got != "/dev/i2c-1" {
		t.Fatalf("BusPath=%q", got)
	}
}

func TestOpen_MissingNode(t *testing.T) {
	if _, err := Open("/dev/i2c-does-not-exist"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNilDev(t *testing.T) {
	var d *Dev
	if err := d.Write([]byte{1}); err == nil {
		t.Fatalf("expected error for nil dev")
	}
	var b *Bus
	if b.Dev(0x68) != nil || b.Close() != nil || b.Path() != "" {
		t.Fatalf("nil bus misbehaved")
	}
}

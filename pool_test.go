package kvsession

import (
	"testing"
)

func TestPutBufferWipesContent(t *testing.T) {
	buf := getBuffer()
	secret := []byte("secret-session-data")
	buf.Write(secret)

	// Keep a view of the backing array before the buffer is reset.
	backing := buf.Bytes()[:len(secret)]
	PutBuffer(buf)

	for i, b := range backing {
		if b != 0 {
			t.Fatalf("byte %d not wiped: %q", i, b)
		}
	}
}

func TestGetBufferIsEmpty(t *testing.T) {
	buf := getBuffer()
	buf.WriteString("leftover")
	PutBuffer(buf)

	buf = getBuffer()
	defer PutBuffer(buf)
	if buf.Len() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", buf.Len())
	}
}

func TestIDBufferWipesContent(t *testing.T) {
	ptr := getIDBuffer(16)
	if len(*ptr) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(*ptr))
	}
	for i := range *ptr {
		(*ptr)[i] = 0xAA
	}
	view := *ptr
	putIDBuffer(ptr)

	for i, b := range view {
		if b != 0 {
			t.Fatalf("byte %d not wiped: %x", i, b)
		}
	}
}

func TestIDBufferGrows(t *testing.T) {
	ptr := getIDBuffer(200)
	defer putIDBuffer(ptr)
	if len(*ptr) != 200 {
		t.Errorf("expected 200 bytes, got %d", len(*ptr))
	}
}

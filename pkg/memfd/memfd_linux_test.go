package memfd

import (
	"bytes"
	"testing"
)

func TestSealed(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"payload", []byte("spawn payload")},
		{"empty", nil},
		{"large", bytes.Repeat([]byte{0xa5}, 1<<20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Sealed(tt.name, tt.content)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			if _, err := f.Write([]byte("x")); err == nil {
				t.Error("write to sealed memfd succeeded")
			}
			got, err := ReadSealed(f)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.content) {
				t.Errorf("ReadSealed = %d bytes, want %d", len(got), len(tt.content))
			}
		})
	}
}

func TestReadSealedRejectsUnsealed(t *testing.T) {
	f, err := New("unsealed")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.Write([]byte("data"))

	if _, err := ReadSealed(f); err == nil {
		t.Error("ReadSealed accepted an unsealed memfd")
	}
}

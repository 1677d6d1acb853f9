package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Command{
		New(PROTOCOL, Uint64(3)),
		New(OPEN, BytesValue([]byte("orders"))),
		New(HASH_NEXT, ArrayOf(), ArrayOf(BytesValue([]byte{1, 2, 3})), BytesValue(make([]byte, 32))),
		New(ROWS, ArrayOf(BytesValue([]byte("a"))), Nil()),
		New(QUIT),
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, c := range cases {
		if err := w.WriteCommand(c); err != nil {
			t.Fatalf("WriteCommand: %v", err)
		}
	}

	r := NewReader(&buf)
	for i, want := range cases {
		got, err := r.ReadCommand()
		if err != nil {
			t.Fatalf("ReadCommand #%d: %v", i, err)
		}
		if got.Verb != want.Verb || len(got.Args) != len(want.Args) {
			t.Fatalf("command #%d: got %v want %v", i, got, want)
		}
		for j := range want.Args {
			if !Equal(got.Args[j], want.Args[j]) {
				t.Fatalf("command #%d arg %d: got %v want %v", i, j, got.Args[j], want.Args[j])
			}
		}
	}
	if _, err := r.ReadCommand(); err != io.EOF {
		t.Fatalf("expected EOF after last command, got %v", err)
	}
}

func TestReadCommandTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCommand(New(QUIT)); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-1]
	r := NewReader(bytes.NewReader(truncated))
	if _, err := r.ReadCommand(); err == nil {
		t.Fatal("expected ProtocolError for truncated frame, got nil")
	} else if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestReadCommandUnknownVerb(t *testing.T) {
	var buf bytes.Buffer
	// A frame with a plausible length, a bogus verb byte, and zero args.
	buf.Write([]byte{0, 0, 0, 2, 0xFF, 0})
	r := NewReader(&buf)
	if _, err := r.ReadCommand(); err == nil {
		t.Fatal("expected ProtocolError for unknown verb, got nil")
	}
}

func TestRangeHasherDeterministic(t *testing.T) {
	h1 := NewRangeHasher()
	h1.WriteRow([][]byte{[]byte("1"), []byte("a")})
	h1.WriteRow([][]byte{[]byte("2"), nil})

	h2 := NewRangeHasher()
	h2.WriteRow([][]byte{[]byte("1"), []byte("a")})
	h2.WriteRow([][]byte{[]byte("2"), nil})

	if !bytes.Equal(h1.Sum(), h2.Sum()) {
		t.Fatal("identical row sequences produced different hashes")
	}

	h3 := NewRangeHasher()
	h3.WriteRow([][]byte{[]byte("2"), nil})
	h3.WriteRow([][]byte{[]byte("1"), []byte("a")})
	if bytes.Equal(h1.Sum(), h3.Sum()) {
		t.Fatal("reordering rows should change the hash")
	}
}

func TestRangeHasherNullVsEmpty(t *testing.T) {
	h1 := NewRangeHasher()
	h1.WriteRow([][]byte{nil})
	h2 := NewRangeHasher()
	h2.WriteRow([][]byte{{}})
	if bytes.Equal(h1.Sum(), h2.Sum()) {
		t.Fatal("NULL and empty-string columns must hash differently")
	}
}

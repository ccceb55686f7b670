package routeros

import (
	"bufio"
	"bytes"
	"testing"
)

func TestLengthRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFF, 0x200000, 0xFFFFFFF}
	for _, n := range lengths {
		buf := appendLength(nil, n)
		got, err := readLength(bufio.NewReader(bytes.NewReader(buf)))
		if err != nil {
			t.Fatalf("readLength(%#x): %v", n, err)
		}
		if got != n {
			t.Fatalf("length %#x round-tripped to %#x", n, got)
		}
	}
}

func TestLengthEncodingWidths(t *testing.T) {
	cases := []struct {
		n     int
		width int
	}{
		{0x7F, 1},
		{0x80, 2},
		{0x3FFF, 2},
		{0x4000, 3},
		{0x1FFFFF, 3},
		{0x200000, 4},
		{0xFFFFFFF, 4},
	}
	for _, c := range cases {
		if got := len(appendLength(nil, c.n)); got != c.width {
			t.Errorf("length %#x encoded in %d bytes, want %d", c.n, got, c.width)
		}
	}
}

func TestWordsToAttrs(t *testing.T) {
	attrs := wordsToAttrs([]string{
		"=.id=*3",
		"=interface=wgmik",
		"=public-key=abc=def=",
		"=disabled=false",
		".tag=7",
		"ignored",
	})
	if attrs[".id"] != "*3" {
		t.Fatalf(".id: %q", attrs[".id"])
	}
	// Values may contain '=' (base64 keys); only the first one splits.
	if attrs["public-key"] != "abc=def=" {
		t.Fatalf("public-key: %q", attrs["public-key"])
	}
	if _, ok := attrs["ignored"]; ok {
		t.Fatal("bare word should not produce an attribute")
	}
}

func TestReadSentence(t *testing.T) {
	var wire []byte
	for _, w := range []string{"!re", "=name=alice"} {
		wire = appendLength(wire, len(w))
		wire = append(wire, w...)
	}
	wire = appendLength(wire, 0)

	s := &session{r: bufio.NewReader(bytes.NewReader(wire))}
	words, err := s.readSentence()
	if err != nil {
		t.Fatalf("readSentence: %v", err)
	}
	if len(words) != 2 || words[0] != "!re" || words[1] != "=name=alice" {
		t.Fatalf("words: %v", words)
	}
}

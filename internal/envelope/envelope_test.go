package envelope

import (
	"math/rand"
	"testing"

	"github.com/nymquest/nymquest/internal/protocol"
)

func testLookup(key []byte) KeyLookup {
	return func(epoch uint32) ([]byte, bool) {
		if epoch != 7 {
			return nil, false
		}
		return key, true
	}
}

func TestRoundTrip(t *testing.T) {
	key := []byte("super-secret-mac-key")
	coder := NewCoder()

	encoded, err := coder.Encode(protocol.KindMove, protocol.Move{Direction: protocol.DirNorth}, 1, key, 7)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(encoded, testLookup(key))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != protocol.KindMove {
		t.Errorf("kind = %v, want Move", msg.Kind)
	}
	if msg.Sequence != 1 {
		t.Errorf("sequence = %v, want 1", msg.Sequence)
	}
}

func TestDecodeRejectsTamperedMAC(t *testing.T) {
	key := []byte("super-secret-mac-key")
	coder := NewCoder()
	encoded, err := coder.Encode(protocol.KindChat, protocol.Chat{Text: "hi"}, 1, key, 7)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	encoded[len(encoded)-1] ^= 0xFF

	if _, err := Decode(encoded, testLookup(key)); err != ErrMacMismatch {
		t.Errorf("err = %v, want ErrMacMismatch", err)
	}
}

func TestDecodeRejectsUnknownEpoch(t *testing.T) {
	key := []byte("super-secret-mac-key")
	coder := NewCoder()
	encoded, err := coder.Encode(protocol.KindChat, protocol.Chat{Text: "hi"}, 1, key, 7)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := Decode(encoded, func(uint32) ([]byte, bool) { return nil, false }); err != ErrUnknownKeyEpoch {
		t.Errorf("err = %v, want ErrUnknownKeyEpoch", err)
	}
}

func TestDecodeNeverPanicsOnGarbage(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	lookup := testLookup([]byte("k"))
	for i := 0; i < 500; i++ {
		n := r.Intn(300)
		buf := make([]byte, n)
		r.Read(buf)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					t.Fatalf("Decode panicked on garbage input: %v", rec)
				}
			}()
			_, _ = Decode(buf, lookup)
		}()
	}
}

func TestOversizePayloadRejected(t *testing.T) {
	key := []byte("k")
	coder := NewCoder()
	big := make([]byte, MaxPayloadBytes+1)
	_, err := coder.Encode(protocol.KindChat, protocol.Chat{Text: string(big)}, 1, key, 7)
	if err != ErrOversizeBeforePadding {
		t.Errorf("err = %v, want ErrOversizeBeforePadding", err)
	}
}

func TestPaddingRotatesStrategy(t *testing.T) {
	key := []byte("k")
	coder := NewCoder()
	coder.rotateAt = 1
	start := coder.strategy
	if _, err := coder.Encode(protocol.KindChat, protocol.Chat{Text: "a"}, 1, key, 7); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if coder.strategy == start {
		t.Errorf("strategy did not rotate after reaching threshold")
	}
}

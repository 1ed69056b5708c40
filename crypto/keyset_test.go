package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

func testMaster(t *testing.T) *hdkeychain.ExtendedKey {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f")
	if err != nil {
		t.Fatal(err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("error creating master key: %v", err)
	}
	return master
}

func TestGenerateKeyset(t *testing.T) {
	master := testMaster(t)

	keyset, err := GenerateKeyset(master, "mint1", 0)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	if len(keyset.Keys) != MaxOrder {
		t.Fatalf("expected %v keys but got %v", MaxOrder, len(keyset.Keys))
	}
	if len(keyset.Id) != 16 || keyset.Id[:2] != "00" {
		t.Fatalf("unexpected keyset id format '%v'", keyset.Id)
	}
	if keyset.MintId != "mint1" {
		t.Fatalf("expected mint id 'mint1' but got '%v'", keyset.MintId)
	}

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << i
		if _, ok := keyset.PrivateKey(amount); !ok {
			t.Fatalf("missing key for amount %v", amount)
		}
	}
	if _, ok := keyset.PrivateKey(3); ok {
		t.Fatal("expected no key for amount that is not a power of 2")
	}

	again, err := GenerateKeyset(master, "mint1", 0)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if again.Id != keyset.Id {
		t.Fatalf("expected same keyset id for same derivation index. Got '%v' and '%v'", keyset.Id, again.Id)
	}

	other, err := GenerateKeyset(master, "mint2", 1)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if other.Id == keyset.Id {
		t.Fatal("expected different keyset ids for different derivation indexes")
	}
}

func TestDeriveKeysetId(t *testing.T) {
	keyset, err := GenerateKeyset(testMaster(t), "mint", 3)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	pubkeys := keyset.PublicKeys()
	if DeriveKeysetId(pubkeys) != keyset.Id {
		t.Fatal("keyset id does not match id derived from public keys")
	}

	// changing a single key changes the id
	pubkeys[1] = pubkeys[2]
	if DeriveKeysetId(pubkeys) == keyset.Id {
		t.Fatal("expected different id after changing public keys")
	}
}

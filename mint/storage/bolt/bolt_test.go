package bolt

import (
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint/storage"
	"golang.org/x/sync/errgroup"
)

func testDB(t *testing.T) *BoltDB {
	db, err := InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error initializing bolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testProofs(keysetId string, secrets ...string) cashu.Proofs {
	proofs := make(cashu.Proofs, len(secrets))
	for i, secret := range secrets {
		proofs[i] = cashu.Proof{Amount: 8, Id: keysetId, Secret: secret, C: "c" + secret}
	}
	return proofs
}

func TestMintInstances(t *testing.T) {
	db := testDB(t)

	instances := []storage.MintInstance{
		{Id: "a", Name: "first", Wallet: "w1", KeysetId: "00aa"},
		{Id: "b", Name: "second", Wallet: "w1", KeysetId: "00bb"},
		{Id: "c", Name: "third", Wallet: "w2", KeysetId: "00cc"},
	}
	for _, instance := range instances {
		if err := db.SaveMintInstance(instance); err != nil {
			t.Fatalf("error saving mint instance: %v", err)
		}
	}
	if err := db.SaveMintInstance(instances[0]); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrAlreadyExists, err)
	}

	instance, err := db.GetMintInstance("b")
	if err != nil {
		t.Fatalf("error getting mint instance: %v", err)
	}
	if !reflect.DeepEqual(instance, instances[1]) {
		t.Fatalf("expected mint instance '%+v' but got '%+v'", instances[1], instance)
	}

	tests := []struct {
		wallets  []string
		expected int
	}{
		{wallets: nil, expected: 3},
		{wallets: []string{"w1"}, expected: 2},
		{wallets: []string{"w1", "w2"}, expected: 3},
		{wallets: []string{"w3"}, expected: 0},
	}
	for _, test := range tests {
		list, err := db.GetMintInstances(test.wallets...)
		if err != nil {
			t.Fatalf("error getting mint instances: %v", err)
		}
		if len(list) != test.expected {
			t.Fatalf("expected %v instances for wallets %v but got %v", test.expected, test.wallets, len(list))
		}
	}

	if err := db.DeleteMintInstance("a"); err != nil {
		t.Fatalf("error deleting mint instance: %v", err)
	}
	if _, err := db.GetMintInstance("a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}
	if err := db.DeleteMintInstance("a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}
}

func TestKeysets(t *testing.T) {
	db := testDB(t)

	keyset := storage.DBKeyset{Id: "00aa", MintId: "mint1", Unit: "sat", DerivationPathIdx: 0, CreatedAt: 1}
	if err := db.SaveKeyset(keyset); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}

	second := storage.DBKeyset{Id: "00bb", MintId: "mint1", Unit: "sat", DerivationPathIdx: 1}
	if err := db.SaveKeyset(second); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrAlreadyExists, err)
	}

	byMint, err := db.GetKeysetByMint("mint1")
	if err != nil {
		t.Fatalf("error getting keyset: %v", err)
	}
	if !reflect.DeepEqual(byMint, keyset) {
		t.Fatalf("expected keyset '%+v' but got '%+v'", keyset, byMint)
	}

	if _, err := db.GetKeyset("00bb"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}

	keysets, err := db.GetKeysets()
	if err != nil {
		t.Fatalf("error getting keysets: %v", err)
	}
	if len(keysets) != 1 {
		t.Fatalf("expected 1 keyset but got %v", len(keysets))
	}
}

func TestMarkInvoiceIssued(t *testing.T) {
	db := testDB(t)

	invoice := storage.Invoice{PaymentHash: "hash", MintId: "mint1", Amount: 100, PaymentRequest: "lnbc"}
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}

	var marked atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			ok, err := db.MarkInvoiceIssued("hash", 100)
			if ok {
				marked.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}
	if marked.Load() != 1 {
		t.Fatalf("expected exactly 1 successful mark but got %v", marked.Load())
	}

	if _, err := db.MarkInvoiceIssued("unknown", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}
}

func TestProofs(t *testing.T) {
	db := testDB(t)

	proofs := testProofs("00aa", "s1", "s2", "s3")
	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("error saving proofs: %v", err)
	}

	// batch with a spent proof is rejected as a whole
	batch := testProofs("00aa", "s4", "s1")
	if err := db.SaveProofs(batch); !errors.Is(err, storage.ErrProofSpent) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofSpent, err)
	}
	used, err := db.GetProofsUsed("00aa", []string{"s4"})
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}
	if len(used) != 0 {
		t.Fatal("expected no proof saved from rejected batch")
	}

	// same secret in another keyset is a different proof
	if err := db.SaveProofs(testProofs("00bb", "s1")); err != nil {
		t.Fatalf("error saving proofs: %v", err)
	}
}

func TestPendingProofs(t *testing.T) {
	db := testDB(t)

	proofs := testProofs("00aa", "p1", "p2", "p3")
	if err := db.AddPendingProofs(proofs, "hash"); err != nil {
		t.Fatalf("error adding pending proofs: %v", err)
	}
	if err := db.AddPendingProofs(proofs[:1], "hash2"); !errors.Is(err, storage.ErrProofPending) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofPending, err)
	}
	if err := db.SaveProofs(proofs[1:2]); !errors.Is(err, storage.ErrProofPending) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofPending, err)
	}

	pending, err := db.GetPendingProofs("00aa", proofs.Secrets())
	if err != nil {
		t.Fatalf("error getting pending proofs: %v", err)
	}
	if len(pending) != 3 || pending[0].PaymentHash != "hash" {
		t.Fatalf("unexpected pending proofs: %+v", pending)
	}

	if err := db.RemovePendingProofs("00aa", []string{"p1"}); err != nil {
		t.Fatalf("error removing pending proofs: %v", err)
	}
	if err := db.SpendPendingProofs("00aa", []string{"p2", "p3"}); err != nil {
		t.Fatalf("error spending pending proofs: %v", err)
	}

	pending, err = db.GetPendingProofs("00aa", proofs.Secrets())
	if err != nil {
		t.Fatalf("error getting pending proofs: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending proofs but got %v", len(pending))
	}

	used, err := db.GetProofsUsed("00aa", proofs.Secrets())
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}
	if len(used) != 2 {
		t.Fatalf("expected 2 used proofs but got %v", len(used))
	}

	// released proof can be spent again
	if err := db.SaveProofs(proofs[:1]); err != nil {
		t.Fatalf("error saving released proof: %v", err)
	}
}

func TestBalance(t *testing.T) {
	db := testDB(t)

	invoices := []storage.Invoice{
		{PaymentHash: "h1", MintId: "mint1", Amount: 100},
		{PaymentHash: "h2", MintId: "mint1", Amount: 50},
		{PaymentHash: "h3", MintId: "mint2", Amount: 10},
	}
	for _, invoice := range invoices {
		if err := db.SaveInvoice(invoice); err != nil {
			t.Fatalf("error saving invoice: %v", err)
		}
	}
	if _, err := db.MarkInvoiceIssued("h1", 64); err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}
	if _, err := db.MarkInvoiceIssued("h3", 10); err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}

	melts := []storage.Melt{
		{MintId: "mint1", PaymentHash: "m1", Amount: 30, FeeReserve: 2, InputAmount: 32, Paid: true, ProofsSpent: true},
		{MintId: "mint1", PaymentHash: "m2", Amount: 10, InputAmount: 16},
	}
	for _, melt := range melts {
		if err := db.SaveMelt(melt); err != nil {
			t.Fatalf("error saving melt: %v", err)
		}
	}

	balance, err := db.GetBalance("mint1")
	if err != nil {
		t.Fatalf("error getting balance: %v", err)
	}
	expected := storage.Balance{Issued: 64, Redeemed: 32}
	if balance != expected {
		t.Fatalf("expected balance '%+v' but got '%+v'", expected, balance)
	}
}

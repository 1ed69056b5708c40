package sqlite

import (
	"errors"
	"log"
	"math/rand/v2"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint/storage"
	"golang.org/x/sync/errgroup"
)

var (
	db *SQLiteDB
)

func TestMain(m *testing.M) {
	code, err := testMain(m)
	if err != nil {
		log.Println(err)
	}
	os.Exit(code)
}

func testMain(m *testing.M) (int, error) {
	dbpath := "./testsqlite"
	err := os.MkdirAll(dbpath, 0750)
	if err != nil {
		return 1, err
	}
	defer os.RemoveAll(dbpath)

	db, err = InitSQLite(dbpath)
	if err != nil {
		return 1, err
	}
	defer db.Close()

	return m.Run(), nil
}

func TestMintInstances(t *testing.T) {
	wallet := generateRandomString(16)
	instances := make([]storage.MintInstance, 5)
	for i := range instances {
		instances[i] = storage.MintInstance{
			Id:       generateRandomString(32),
			Name:     "mint" + generateRandomString(4),
			Wallet:   wallet,
			KeysetId: "00" + generateRandomString(14),
		}
		if err := db.SaveMintInstance(instances[i]); err != nil {
			t.Fatalf("error saving mint instance: %v", err)
		}
	}

	if err := db.SaveMintInstance(instances[0]); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrAlreadyExists, err)
	}

	instance, err := db.GetMintInstance(instances[2].Id)
	if err != nil {
		t.Fatalf("error getting mint instance: %v", err)
	}
	if !reflect.DeepEqual(instance, instances[2]) {
		t.Fatalf("expected mint instance '%+v' but got '%+v'", instances[2], instance)
	}

	walletInstances, err := db.GetMintInstances(wallet)
	if err != nil {
		t.Fatalf("error getting mint instances: %v", err)
	}
	if len(walletInstances) != len(instances) {
		t.Fatalf("expected %v instances but got %v", len(instances), len(walletInstances))
	}

	none, err := db.GetMintInstances("unknownwallet")
	if err != nil {
		t.Fatalf("error getting mint instances: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no instances but got %v", len(none))
	}

	if err := db.DeleteMintInstance(instances[0].Id); err != nil {
		t.Fatalf("error deleting mint instance: %v", err)
	}
	if _, err := db.GetMintInstance(instances[0].Id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}
	if err := db.DeleteMintInstance(instances[0].Id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}
}

func TestKeysets(t *testing.T) {
	mintId := generateRandomString(32)
	keyset := storage.DBKeyset{
		Id:                "00" + generateRandomString(14),
		MintId:            mintId,
		Unit:              cashu.Sat.String(),
		DerivationPathIdx: rand.Uint32(),
		CreatedAt:         1700000000,
	}

	if err := db.SaveKeyset(keyset); err != nil {
		t.Fatalf("error saving keyset: %v", err)
	}

	// second keyset for same mint is rejected
	second := keyset
	second.Id = "00" + generateRandomString(14)
	second.DerivationPathIdx = keyset.DerivationPathIdx + 1
	if err := db.SaveKeyset(second); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrAlreadyExists, err)
	}

	byId, err := db.GetKeyset(keyset.Id)
	if err != nil {
		t.Fatalf("error getting keyset: %v", err)
	}
	if !reflect.DeepEqual(byId, keyset) {
		t.Fatalf("expected keyset '%+v' but got '%+v'", keyset, byId)
	}

	byMint, err := db.GetKeysetByMint(mintId)
	if err != nil {
		t.Fatalf("error getting keyset: %v", err)
	}
	if byMint.Id != keyset.Id {
		t.Fatalf("expected keyset id '%v' but got '%v'", keyset.Id, byMint.Id)
	}

	if _, err := db.GetKeysetByMint("nonexistent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}

	keysets, err := db.GetKeysets()
	if err != nil {
		t.Fatalf("error getting keysets: %v", err)
	}
	if !slices.ContainsFunc(keysets, func(k storage.DBKeyset) bool { return k.Id == keyset.Id }) {
		t.Fatal("saved keyset not in list of keysets")
	}
}

func TestInvoices(t *testing.T) {
	invoice := generateRandomInvoice(generateRandomString(32), 100)
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}
	if err := db.SaveInvoice(invoice); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrAlreadyExists, err)
	}

	dbInvoice, err := db.GetInvoice(invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice: %v", err)
	}
	if !reflect.DeepEqual(dbInvoice, invoice) {
		t.Fatalf("expected invoice '%+v' but got '%+v'", invoice, dbInvoice)
	}

	if _, err := db.GetInvoice("nonexistent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}

	marked, err := db.MarkInvoiceIssued(invoice.PaymentHash, 64)
	if err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}
	if !marked {
		t.Fatal("expected first call to mark invoice as issued")
	}

	marked, err = db.MarkInvoiceIssued(invoice.PaymentHash, 100)
	if err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}
	if marked {
		t.Fatal("expected second call to not mark invoice as issued")
	}

	dbInvoice, err = db.GetInvoice(invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice: %v", err)
	}
	if !dbInvoice.Issued || dbInvoice.IssuedAmount != 64 {
		t.Fatalf("expected invoice issued with amount 64 but got issued=%v amount=%v",
			dbInvoice.Issued, dbInvoice.IssuedAmount)
	}

	if _, err := db.MarkInvoiceIssued("nonexistent", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrNotFound, err)
	}
}

func TestMarkInvoiceIssuedConcurrent(t *testing.T) {
	invoice := generateRandomInvoice(generateRandomString(32), 21)
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}

	var marked atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			ok, err := db.MarkInvoiceIssued(invoice.PaymentHash, 21)
			if err != nil {
				return err
			}
			if ok {
				marked.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}

	if marked.Load() != 1 {
		t.Fatalf("expected exactly 1 successful mark but got %v", marked.Load())
	}
}

func TestProofs(t *testing.T) {
	keysetId := "00" + generateRandomString(14)
	proofs := generateRandomProofs(keysetId, 50)

	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("error saving proofs: %v", err)
	}

	secrets := proofs[:20].Secrets()
	expectedProofs := make([]storage.DBProof, 20)
	for i := 0; i < 20; i++ {
		expectedProofs[i] = toDBProof(proofs[i], "")
	}

	dbProofs, err := db.GetProofsUsed(keysetId, secrets)
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}

	if len(dbProofs) != 20 {
		t.Fatalf("got incorrect number of proofs from db. Expected %v but got %v", 20, len(dbProofs))
	}

	sortDBProofs(expectedProofs)
	sortDBProofs(dbProofs)

	if !reflect.DeepEqual(dbProofs, expectedProofs) {
		t.Fatal("proofs from db do not match generated ones saved to db")
	}

	// same secret under a different keyset is a different proof
	otherKeyset, err := db.GetProofsUsed("00"+generateRandomString(14), secrets)
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}
	if len(otherKeyset) != 0 {
		t.Fatalf("expected no proofs for other keyset but got %v", len(otherKeyset))
	}

	// a batch with one already spent proof saves nothing
	batch := generateRandomProofs(keysetId, 10)
	batch[5] = proofs[7]
	if err := db.SaveProofs(batch); !errors.Is(err, storage.ErrProofSpent) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofSpent, err)
	}

	saved, err := db.GetProofsUsed(keysetId, batch.Secrets())
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected only the previously spent proof to be in db but got %v proofs", len(saved))
	}
}

func TestSaveProofsConcurrent(t *testing.T) {
	keysetId := "00" + generateRandomString(14)
	proofs := generateRandomProofs(keysetId, 5)

	var saved atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			err := db.SaveProofs(proofs)
			if errors.Is(err, storage.ErrProofSpent) {
				return nil
			}
			if err != nil {
				return err
			}
			saved.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error saving proofs: %v", err)
	}

	if saved.Load() != 1 {
		t.Fatalf("expected exactly 1 successful save but got %v", saved.Load())
	}
}

func TestPendingProofs(t *testing.T) {
	keysetId := "00" + generateRandomString(14)
	paymentHash := generateRandomString(64)
	proofs := generateRandomProofs(keysetId, 50)

	if err := db.AddPendingProofs(proofs, paymentHash); err != nil {
		t.Fatalf("error saving pending proofs: %v", err)
	}

	secrets := proofs[:20].Secrets()
	expectedProofs := make([]storage.DBProof, 20)
	for i := 0; i < 20; i++ {
		expectedProofs[i] = toDBProof(proofs[i], paymentHash)
	}

	pendingProofs, err := db.GetPendingProofs(keysetId, secrets)
	if err != nil {
		t.Fatalf("error getting pending proofs: %v", err)
	}

	if len(pendingProofs) != 20 {
		t.Fatalf("got incorrect number of pending proofs from db. Expected %v but got %v",
			20, len(pendingProofs))
	}

	sortDBProofs(expectedProofs)
	sortDBProofs(pendingProofs)

	if !reflect.DeepEqual(pendingProofs, expectedProofs) {
		t.Fatal("pending proofs from db do not match generated ones saved to db")
	}

	// pending proofs can be neither reserved again nor spent directly
	if err := db.AddPendingProofs(proofs[:1], "anotherhash"); !errors.Is(err, storage.ErrProofPending) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofPending, err)
	}
	if err := db.SaveProofs(proofs[:1]); !errors.Is(err, storage.ErrProofPending) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofPending, err)
	}

	if err := db.RemovePendingProofs(keysetId, proofs[:25].Secrets()); err != nil {
		t.Fatalf("error removing pending proofs: %v", err)
	}
	pendingProofs, err = db.GetPendingProofs(keysetId, proofs.Secrets())
	if err != nil {
		t.Fatalf("error getting pending proofs: %v", err)
	}
	if len(pendingProofs) != 25 {
		t.Fatalf("expected %v pending proofs but got %v", 25, len(pendingProofs))
	}

	remaining := proofs[25:].Secrets()
	if err := db.SpendPendingProofs(keysetId, remaining); err != nil {
		t.Fatalf("error spending pending proofs: %v", err)
	}

	pendingProofs, err = db.GetPendingProofs(keysetId, remaining)
	if err != nil {
		t.Fatalf("error getting pending proofs: %v", err)
	}
	if len(pendingProofs) != 0 {
		t.Fatalf("expected no pending proofs after spending but got %v", len(pendingProofs))
	}

	used, err := db.GetProofsUsed(keysetId, remaining)
	if err != nil {
		t.Fatalf("error getting used proofs: %v", err)
	}
	if len(used) != 25 {
		t.Fatalf("expected %v used proofs but got %v", 25, len(used))
	}

	if err := db.AddPendingProofs(proofs[30:31], paymentHash); !errors.Is(err, storage.ErrProofSpent) {
		t.Fatalf("expected error '%v' but got '%v'", storage.ErrProofSpent, err)
	}
}

func TestBalance(t *testing.T) {
	mintId := generateRandomString(32)

	paid := generateRandomInvoice(mintId, 100)
	if err := db.SaveInvoice(paid); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}
	if _, err := db.MarkInvoiceIssued(paid.PaymentHash, 100); err != nil {
		t.Fatalf("error marking invoice issued: %v", err)
	}
	// not issued
	if err := db.SaveInvoice(generateRandomInvoice(mintId, 500)); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}

	melts := []storage.Melt{
		{MintId: mintId, PaymentHash: generateRandomString(64), Amount: 40, FeeReserve: 2, InputAmount: 42, Paid: true, ProofsSpent: true},
		{MintId: mintId, PaymentHash: generateRandomString(64), Amount: 10, FeeReserve: 2, InputAmount: 16, Paid: false, ProofsSpent: false},
		{MintId: generateRandomString(32), PaymentHash: generateRandomString(64), Amount: 10, InputAmount: 10, Paid: true, ProofsSpent: true},
	}
	for _, melt := range melts {
		if err := db.SaveMelt(melt); err != nil {
			t.Fatalf("error saving melt: %v", err)
		}
	}

	balance, err := db.GetBalance(mintId)
	if err != nil {
		t.Fatalf("error getting balance: %v", err)
	}
	expected := storage.Balance{Issued: 100, Redeemed: 42}
	if balance != expected {
		t.Fatalf("expected balance '%+v' but got '%+v'", expected, balance)
	}

	empty, err := db.GetBalance("nomint")
	if err != nil {
		t.Fatalf("error getting balance: %v", err)
	}
	if empty != (storage.Balance{}) {
		t.Fatalf("expected empty balance but got '%+v'", empty)
	}
}

func generateRandomString(length int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func generateRandomProofs(keysetId string, num int) cashu.Proofs {
	proofs := make(cashu.Proofs, num)

	for i := 0; i < num; i++ {
		proof := cashu.Proof{
			Amount: 21,
			Id:     keysetId,
			Secret: generateRandomString(64),
			C:      generateRandomString(64),
		}
		proofs[i] = proof
	}

	return proofs
}

func generateRandomInvoice(mintId string, amount uint64) storage.Invoice {
	return storage.Invoice{
		PaymentHash:    generateRandomString(64),
		MintId:         mintId,
		Amount:         amount,
		PaymentRequest: generateRandomString(100),
		CreatedAt:      1700000000,
	}
}

func toDBProof(proof cashu.Proof, paymentHash string) storage.DBProof {
	return storage.DBProof{
		Amount:      proof.Amount,
		Id:          proof.Id,
		Secret:      proof.Secret,
		C:           proof.C,
		PaymentHash: paymentHash,
	}
}

func sortDBProofs(proofs []storage.DBProof) {
	slices.SortFunc(proofs, func(a, b storage.DBProof) int {
		return strings.Compare(a.Secret, b.Secret)
	})
}

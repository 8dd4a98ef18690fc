// Package keyserver is a reference implementation of the CDoc2 key-server
// wire contract: it is NOT part of the cdoc core (spec.md §9 marks the
// key-server transport an external collaborator), but exists so tests and
// cmd/cdoc-tool have something concrete implementing backend.NetworkBackend
// end to end.
package keyserver

import (
	"time"

	"gorm.io/gorm"
)

// Transaction records a sender's ephemeral public key under a
// (keyserver_id, transaction_id) pair, exactly the row shape
// fetch_key(keyserver_id, transaction_id) -> sender_pub needs to answer
// (spec.md §4.2).
type Transaction struct {
	ID            uint      `gorm:"primaryKey"`
	KeyserverID   string    `gorm:"index:idx_lookup,unique"`
	TransactionID string    `gorm:"index:idx_lookup,unique"`
	SenderPub     []byte
	CreatedAt     time.Time
}

// Store is the gorm-backed transaction table, opened over sqlite or
// postgres exactly like the teacher's sqlite.DB/gorm.io pairing.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an already-opened *gorm.DB (sqlite or postgres driver)
// and ensures the Transaction table exists.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Transaction{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Put records the sender's ephemeral public key for a transaction.
func (s *Store) Put(keyserverID, transactionID string, senderPub []byte) error {
	tx := &Transaction{KeyserverID: keyserverID, TransactionID: transactionID, SenderPub: senderPub}
	return s.db.Where(Transaction{KeyserverID: keyserverID, TransactionID: transactionID}).
		Assign(Transaction{SenderPub: senderPub}).
		FirstOrCreate(tx).Error
}

// Get retrieves the sender's ephemeral public key for a transaction.
func (s *Store) Get(keyserverID, transactionID string) ([]byte, error) {
	var tx Transaction
	err := s.db.Where("keyserver_id = ? AND transaction_id = ?", keyserverID, transactionID).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return tx.SenderPub, nil
}

package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/iudanet/gophsync/internal/client/storage"
)

var (
	// BoltDB bucket names
	bucketOwners = []byte("owners")
	bucketOps    = []byte("ops")    // owner -> (timestamp -> ciphertext)
	bucketRows   = []byte("rows")   // owner -> (table\x00id -> row)
	bucketClocks = []byte("clocks") // owner -> last timestamp
)

// DefaultOpenTimeout время ожидания файловой блокировки БД.
// BoltDB держит эксклюзивную блокировку файла: второй процесс с той же БД
// не сможет открыть ее, пока первый не закроет.
const DefaultOpenTimeout = 5 * time.Second

// Option настраивает открытие хранилища
type Option func(*bbolt.Options)

// WithOpenTimeout задает время ожидания файловой блокировки
func WithOpenTimeout(timeout time.Duration) Option {
	return func(o *bbolt.Options) {
		o.Timeout = timeout
	}
}

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	boltOpts := &bbolt.Options{Timeout: DefaultOpenTimeout}
	for _, opt := range opts {
		opt(boltOpts)
	}

	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketOwners, bucketOps, bucketRows, bucketClocks} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// update выполняет транзакцию записи и классифицирует ошибки.
// Ошибки целостности и "не найдено" возвращаются как есть, остальные считаются временными.
func (s *Storage) update(ctx context.Context, op string, fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(op, s.db.Update(fn))
}

func (s *Storage) view(ctx context.Context, op string, fn func(tx *bbolt.Tx) error) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(op, s.db.View(fn))
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrIntegrity),
		errors.Is(err, storage.ErrOwnerNotFound),
		errors.Is(err, storage.ErrRowNotFound):
		return err
	case errors.Is(err, bolterrors.ErrDatabaseNotOpen):
		return storage.ErrStorageClosed
	default:
		return fmt.Errorf("%w: failed to %s: %w", storage.ErrTransient, op, err)
	}
}

// ownerBucket возвращает вложенный bucket владельца или nil, если его нет.
func ownerBucket(tx *bbolt.Tx, parent []byte, owner []byte) *bbolt.Bucket {
	root := tx.Bucket(parent)
	if root == nil {
		return nil
	}
	return root.Bucket(owner)
}

func createOwnerBucket(tx *bbolt.Tx, parent []byte, owner []byte) (*bbolt.Bucket, error) {
	root := tx.Bucket(parent)
	if root == nil {
		return nil, fmt.Errorf("bucket %s is missing", parent)
	}
	b, err := root.CreateBucketIfNotExists(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner bucket: %w", err)
	}
	return b, nil
}

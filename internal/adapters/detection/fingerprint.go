package detection

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/bloomfilter"
)

const (
	KnownSpamEvaluatorName = "known-spam"
	KnownSpamConfidence    = 0.9

	loadBatchSize = 10000
)

var FingerprintBucket = []byte("fingerprints")

type FingerprintConfig struct {
	DBPath            string  `mapstructure:"db_path"` // Empty keeps fingerprints in memory only
	ExpectedItems     uint    `mapstructure:"expected_items"`
	FalsePositiveRate float64 `mapstructure:"false_positive_rate" validate:"gte=0,lt=1"`
}

func DefaultFingerprintConfig() FingerprintConfig {
	return FingerprintConfig{
		ExpectedItems:     100000,
		FalsePositiveRate: 0.01,
	}
}

// FingerprintStore holds murmur3 fingerprints of normalized spam content.
//
// Lookup Path:
//  1. Bloom filter: a miss is definitive
//  2. In-memory exact set
//  3. bbolt bucket, when a database is configured; hits are promoted to 2
//
// Thread Safety: safe for concurrent use.
type FingerprintStore struct {
	bloom  *bloomfilter.Filter
	exact  *xsync.MapOf[uint64, struct{}]
	db     *bolt.DB
	dbPath string
	count  atomic.Int64
}

// NewFingerprintStore opens the store, creating the database file when
// DBPath is set and rebuilding the bloom filter from its contents.
func NewFingerprintStore(config FingerprintConfig) (*FingerprintStore, error) {
	d := DefaultFingerprintConfig()
	if config.ExpectedItems == 0 {
		config.ExpectedItems = d.ExpectedItems
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = d.FalsePositiveRate
	}

	s := &FingerprintStore{
		bloom:  bloomfilter.New(config.ExpectedItems, config.FalsePositiveRate),
		exact:  xsync.NewMapOf[uint64, struct{}](),
		dbPath: config.DBPath,
	}
	if config.DBPath == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	db, err := bolt.Open(config.DBPath, 0600, &bolt.Options{
		Timeout:    time.Second,
		NoGrowSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(FingerprintBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	s.db = db

	if err := s.rebuildBloom(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild bloom filter: %w", err)
	}

	log.Info().
		Str("db_path", config.DBPath).
		Int64("entries", s.count.Load()).
		Uint("bloom_size", config.ExpectedItems).
		Msg("Known-spam fingerprint store initialized")

	return s, nil
}

func (s *FingerprintStore) rebuildBloom() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(FingerprintBucket)
		if b == nil {
			return nil
		}
		var n int64
		err := b.ForEach(func(k, _ []byte) error {
			s.bloom.Add(k)
			n++
			return nil
		})
		s.count.Store(n)
		return err
	})
}

func fingerprintKey(fp uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], fp)
	return k[:]
}

// Add records content as known spam.
func (s *FingerprintStore) Add(content string) error {
	return s.AddFingerprint(Fingerprint(content))
}

// AddFingerprint records an already computed fingerprint.
func (s *FingerprintStore) AddFingerprint(fp uint64) error {
	if s.db != nil {
		if err := s.writeBatch([]uint64{fp}); err != nil {
			return err
		}
		s.exact.Store(fp, struct{}{})
		return nil
	}
	if _, loaded := s.exact.LoadOrStore(fp, struct{}{}); !loaded {
		s.bloom.Add(fingerprintKey(fp))
		s.count.Add(1)
	}
	return nil
}

func (s *FingerprintStore) writeBatch(batch []uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(FingerprintBucket)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		var seen [8]byte
		binary.BigEndian.PutUint64(seen[:], uint64(time.Now().Unix()))
		for _, fp := range batch {
			key := fingerprintKey(fp)
			if b.Get(key) != nil {
				continue
			}
			if err := b.Put(key, seen[:]); err != nil {
				return err
			}
			s.bloom.Add(key)
			s.count.Add(1)
		}
		return nil
	})
}

// Contains reports whether content's fingerprint is known.
func (s *FingerprintStore) Contains(content string) bool {
	return s.ContainsFingerprint(Fingerprint(content))
}

func (s *FingerprintStore) ContainsFingerprint(fp uint64) bool {
	key := fingerprintKey(fp)
	if !s.bloom.Contains(key) {
		return false
	}
	if _, ok := s.exact.Load(fp); ok {
		return true
	}
	if s.db == nil {
		return false
	}

	var exists bool
	s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(FingerprintBucket); b != nil {
			exists = b.Get(key) != nil
		}
		return nil
	})
	if exists {
		s.exact.Store(fp, struct{}{})
	}
	return exists
}

// LoadFromFile adds one known-spam message per line. Blank lines and lines
// starting with '#' are skipped. A missing file is not an error.
func (s *FingerprintStore) LoadFromFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", path).Msg("Known-spam file not found")
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	batch := make([]uint64, 0, loadBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var err error
		if s.db != nil {
			err = s.writeBatch(batch)
		} else {
			for _, fp := range batch {
				if err = s.AddFingerprint(fp); err != nil {
					break
				}
			}
		}
		batch = batch[:0]
		return err
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		batch = append(batch, Fingerprint(line))
		if len(batch) >= loadBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	log.Info().Int64("count", s.count.Load()).Str("file", path).Msg("Loaded known-spam fingerprints")
	return scanner.Err()
}

func (s *FingerprintStore) Count() int {
	return int(s.count.Load())
}

func (s *FingerprintStore) BloomFillRatio() float64 {
	return s.bloom.FillRatio()
}

func (s *FingerprintStore) Close() error {
	if s.db != nil {
		log.Info().Str("db_path", s.dbPath).Int64("entries", s.count.Load()).Msg("Closing known-spam fingerprint store")
		return s.db.Close()
	}
	return nil
}

// KnownSpamEvaluator matches messages against content confirmed as
// coordinated spam.
type KnownSpamEvaluator struct {
	store *FingerprintStore
}

func NewKnownSpamEvaluator(store *FingerprintStore) *KnownSpamEvaluator {
	return &KnownSpamEvaluator{store: store}
}

func (e *KnownSpamEvaluator) Name() string {
	return KnownSpamEvaluatorName
}

func (e *KnownSpamEvaluator) Evaluate(_ context.Context, mctx *domain.ModerationContext) domain.ConditionResult {
	if e.store == nil || strings.TrimSpace(mctx.Content) == "" {
		return domain.NoMatch()
	}
	fp := Fingerprint(mctx.Content)
	if !e.store.ContainsFingerprint(fp) {
		return domain.NoMatch()
	}
	var result domain.ConditionResult
	result.Trigger(KnownSpamConfidence, domain.PatternSpam,
		fmt.Sprintf("known spam content (%016x)", fp))
	return result
}

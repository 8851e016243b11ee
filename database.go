// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package recall

import (
	"log/slog"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/ai/openai"
	"github.com/poiesic/recall/config"
	"github.com/poiesic/recall/ingestion"
	"github.com/poiesic/recall/ledger"
	"github.com/poiesic/recall/search"
	"github.com/poiesic/recall/storage"
	"github.com/poiesic/recall/storage/badger"
)

// Database bundles the corpus store, the embedding client, and
// factories for the search engine, ingestion pipeline, and activity
// ledger. It is the main entry point for embedding recall in a program.
type Database struct {
	backend          *badger.Backend
	messageRepo      storage.MessageRepository
	conversationRepo storage.ConversationRepository
	ledgerRepo       storage.LedgerRepository
	embedder         ai.Embedder
	cfg              config.Config
	logger           *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	inMemory bool
	embedder ai.Embedder
}

// WithAIConfig sets the embedding service configuration.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithInMemory opens the corpus store in memory, mostly for tests.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithEmbedder injects an embedder, bypassing the OpenAI-compatible
// client construction. Intended for tests.
func WithEmbedder(embedder ai.Embedder) DatabaseOption {
	return func(o *databaseOptions) {
		o.embedder = embedder
	}
}

// NewDatabase opens (or creates) a corpus store at filePath.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	messageRepo, err := badger.NewMessageRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	conversationRepo, err := badger.NewConversationRepository(backend)
	if err != nil {
		messageRepo.Close()
		backend.Close()
		return nil, err
	}

	ledgerRepo := badger.NewLedgerRepository(backend)

	embedder := options.embedder
	if embedder == nil {
		embedder, err = openai.NewEmbedder(options.aiConfig)
		if err != nil {
			conversationRepo.Close()
			messageRepo.Close()
			backend.Close()
			return nil, err
		}
	}

	return &Database{
		backend:          backend,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		ledgerRepo:       ledgerRepo,
		embedder:         embedder,
		cfg:              config.Default(),
		logger:           slog.Default(),
	}, nil
}

// Open builds a Database from a loaded configuration.
func Open(cfg config.Config, opts ...DatabaseOption) (*Database, error) {
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(cfg.Embedding.Host),
		ai.WithEmbeddingModel(cfg.Embedding.Model),
	)

	all := append([]DatabaseOption{WithAIConfig(aiConfig)}, opts...)
	if cfg.Database.InMemory {
		all = append(all, WithInMemory())
	}

	db, err := NewDatabase(cfg.Database.Path, all...)
	if err != nil {
		return nil, err
	}
	db.cfg = cfg
	return db, nil
}

// Close closes the repositories and the backing store.
func (db *Database) Close() error {
	if err := db.conversationRepo.Close(); err != nil {
		db.logger.Error("error closing conversation repository", "err", err)
		return err
	}
	if err := db.messageRepo.Close(); err != nil {
		db.logger.Error("error closing message repository", "err", err)
		return err
	}
	if err := db.ledgerRepo.Close(); err != nil {
		db.logger.Error("error closing ledger repository", "err", err)
		return err
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) MessageRepository() storage.MessageRepository {
	return db.messageRepo
}

func (db *Database) ConversationRepository() storage.ConversationRepository {
	return db.conversationRepo
}

func (db *Database) LedgerRepository() storage.LedgerRepository {
	return db.ledgerRepo
}

// NewSearchEngine builds a search engine wired to this database, with
// fusion weights, sub-query timeout, and snapshot path taken from the
// configuration. Caller options are applied last and win.
func (db *Database) NewSearchEngine(opts ...search.Option) (*search.Engine, error) {
	defaults := []search.Option{
		search.WithWeights(search.Weights{
			Lexical:  db.cfg.Search.LexicalWeight,
			Semantic: db.cfg.Search.SemanticWeight,
		}),
		search.WithSubQueryTimeout(time.Duration(db.cfg.Search.SubQueryTimeoutSec) * time.Second),
	}
	if db.cfg.Search.SnapshotPath != "" {
		defaults = append(defaults, search.WithSnapshotPath(db.cfg.Search.SnapshotPath))
	}
	return search.NewEngine(db.messageRepo, db.conversationRepo, db.embedder, append(defaults, opts...)...)
}

// NewIngestionPipeline builds an ingestion pipeline wired to this database.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	defaults := []ingestion.Option{
		ingestion.WithBatchSize(db.cfg.Ingest.BatchSize),
	}
	if db.cfg.Ingest.PoolSize > 0 {
		defaults = append(defaults, ingestion.WithPoolSize(db.cfg.Ingest.PoolSize))
	}
	return ingestion.NewPipeline(db.messageRepo, db.embedder, append(defaults, opts...)...)
}

// NewLedgerRecorder builds an activity ledger recorder over this database.
func (db *Database) NewLedgerRecorder() (*ledger.Recorder, error) {
	return ledger.NewRecorder(db.ledgerRepo)
}

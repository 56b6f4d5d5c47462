// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobstore persists change-set job records in embedded storage.
//
// # Description
//
// Records live in BadgerDB with values stored as zstd-compressed JSON.
// The store is the durable side of the job lifecycle: clients poll it
// after a streaming connection drops, and operators inspect it after the
// fact.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/services/changeset/progress"
	"github.com/AleutianAI/AleutianApply/services/changeset/transaction"
)

// ErrJobNotFound is returned by Get for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the persisted lifecycle state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// JobRecord is the durable state of one change-set job.
type JobRecord struct {
	// ID is the job's UUID.
	ID string `json:"id"`

	// Status is the lifecycle state.
	Status JobStatus `json:"status"`

	// Phase is the last progress phase the job reached.
	Phase progress.Phase `json:"phase,omitempty"`

	// Prompt is the change request that started the job.
	Prompt string `json:"prompt"`

	// Summary is the producer's description of the change, once known.
	Summary string `json:"summary,omitempty"`

	// Report is the apply outcome, present for completed jobs.
	Report *transaction.Report `json:"report,omitempty"`

	// Error is the classified failure for failed jobs.
	Error *apperr.AppError `json:"error,omitempty"`

	// CreatedAt and UpdatedAt bound the job's lifetime.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract for job records.
type Store interface {
	Put(ctx context.Context, record JobRecord) error
	Get(ctx context.Context, id string) (JobRecord, error)
	List(ctx context.Context, limit int) ([]JobRecord, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

const keyPrefix = "job:"

// BadgerStore persists job records in BadgerDB with zstd-compressed
// values.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation and
// the zstd codec is safe for concurrent EncodeAll/DecodeAll.
type BadgerStore struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ Store = (*BadgerStore)(nil)

// Open creates a persistent store at the given directory, creating it if
// needed.
func Open(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("jobstore path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create jobstore directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	return open(opts)
}

// OpenInMemory creates a volatile store for tests and ephemeral runs.
func OpenInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &BadgerStore{db: db, encoder: encoder, decoder: decoder}, nil
}

// Put writes or replaces a record. UpdatedAt is stamped on every write;
// CreatedAt is stamped on first write only.
func (s *BadgerStore) Put(ctx context.Context, record JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" {
		return apperr.New(apperr.CodeValidation, "job record has no ID")
	}

	record.UpdatedAt = time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, fmt.Errorf("marshal job %s: %w", record.ID, err))
	}
	compressed := s.encoder.EncodeAll(payload, nil)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+record.ID), compressed)
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, fmt.Errorf("persist job %s: %w", record.ID, err))
	}
	return nil
}

// Get loads one record by ID, returning ErrJobNotFound for unknown IDs.
func (s *BadgerStore) Get(ctx context.Context, id string) (JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return JobRecord{}, err
	}

	var record JobRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return s.decode(val, &record)
		})
	})
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return JobRecord{}, err
		}
		return JobRecord{}, apperr.Wrap(apperr.CodeStorage, fmt.Errorf("load job %s: %w", id, err))
	}
	return record, nil
}

// List returns up to limit records, most recently updated first. A
// non-positive limit returns everything.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []JobRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record JobRecord
			err := it.Item().Value(func(val []byte) error {
				return s.decode(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, fmt.Errorf("list jobs: %w", err))
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].UpdatedAt.After(records[b].UpdatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete removes a record. Deleting an unknown ID is not an error.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, fmt.Errorf("delete job %s: %w", id, err))
	}
	return nil
}

// Close releases the database and codec resources.
func (s *BadgerStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close jobstore: %w", err)
	}
	return nil
}

func (s *BadgerStore) decode(compressed []byte, record *JobRecord) error {
	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("decompress job record: %w", err)
	}
	return json.Unmarshal(payload, record)
}

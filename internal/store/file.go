// SPDX-License-Identifier: MIT

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// formatVersion is the current on-disk layout: a session-keyed document.
// Version 1 was an implicit flat list (a bare JSON array) written before
// multi-account support; it is detected and upgraded on first load.
const formatVersion = 2

type document[T any] struct {
	Version  int            `json:"version"`
	Sessions map[string][]T `json:"sessions"`
}

// loadCollection reads one collection file. It returns the active session's
// entries, the remaining sessions untouched, and whether the file needs to be
// rewritten (legacy layout detected).
func loadCollection[T any](path, session string) (active []T, others map[string][]T, dirty bool, err error) {
	others = make(map[string][]T)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, others, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, others, false, nil
	}

	if trimmed[0] == '[' {
		// Legacy flat list: the pre-account layout held a single implicit
		// profile. Assign it to the active session and rewrite keyed.
		var legacy []T
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, nil, false, fmt.Errorf("decode legacy layout %s: %w", path, err)
		}
		return legacy, others, true, nil
	}

	var doc document[T]
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	for key, entries := range doc.Sessions {
		if key == session {
			active = entries
			continue
		}
		others[key] = entries
	}
	return active, others, false, nil
}

// saveCollection writes the full session map back atomically and durably:
// the pending file is fsynced before the rename so a crash never leaves a
// torn document behind.
func saveCollection[T any](path, session string, active []T, others map[string][]T) error {
	doc := document[T]{
		Version:  formatVersion,
		Sessions: make(map[string][]T, len(others)+1),
	}
	for key, entries := range others {
		doc.Sessions[key] = entries
	}
	doc.Sessions[session] = active

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

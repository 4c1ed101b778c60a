// Package audit keeps a tamper-evident record of account, unlock and vault
// events. Each record carries an HMAC over its content and the previous
// record's HMAC, so editing, dropping or reordering lines breaks the chain.
//
// Records never contain secrets: entries are referenced by id and type only.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// MinDiskSpace is the free space required before a record is appended.
const MinDiskSpace = 1024 * 1024

const (
	genesis   = "genesis"
	metaFile  = "audit.meta"
	hkdfInfo  = "credsafe-audit-v1"
	schemaVer = 1
)

// Operations.
const (
	OpAccountSetup          = "account.setup"
	OpAccountPasswordChange = "account.password_change"
	OpAccountClear          = "account.clear"
	OpSettingsPassword      = "settings.password"

	OpAuthUnlock       = "auth.unlock"
	OpAuthUnlockFailed = "auth.unlock_failed"
	OpAuthBiometric    = "auth.biometric"

	OpEntryAdd       = "entry.add"
	OpEntryDelete    = "entry.delete"
	OpEntryGet       = "entry.get"
	OpEntryGetMasked = "entry.get_masked"
	OpEntryList      = "entry.list"

	OpVaultCorrupt = "vault.corrupt"
	OpVaultBackup  = "vault.backup"
	OpVaultRestore = "vault.restore"
)

// Sources.
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is one line of the log.
type Event struct {
	Version   int            `json:"v"`
	ID        string         `json:"id"`
	Timestamp string         `json:"ts"`
	Operation string         `json:"op"`
	Source    string         `json:"source"`
	SessionID string         `json:"session_id"`
	Target    string         `json:"target,omitempty"`
	Result    string         `json:"result"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Context   map[string]any `json:"ctx,omitempty"`
	Chain     Chain          `json:"chain"`
}

// ErrorInfo describes a failed or denied operation.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends events to monthly JSONL files under a directory.
//
// A nil *Logger is valid and discards everything, so components can take an
// optional logger without checks at each call site.
type Logger struct {
	path      string
	source    string
	sessionID string
	logger    *slog.Logger

	mu       sync.Mutex
	hmacKey  []byte
	sequence int64
	prevHash string
}

// NewLogger returns a logger writing under path. Events are tagged with
// source. SetHMACKey must be called before the first Record.
func NewLogger(path, source string) *Logger {
	return &Logger{
		path:      path,
		source:    source,
		sessionID: uuid.NewString(),
		prevHash:  genesis,
		logger:    slog.Default().With("component", "audit"),
	}
}

// SetHMACKey derives the chain key from master with HKDF-SHA256 and loads
// the persisted chain position.
func (l *Logger) SetHMACKey(master []byte) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)).Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("audit chain state unreadable, starting new chain", "error", err)
		}
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Record appends one event.
func (l *Logger) Record(op, result, target string, errInfo *ErrorInfo, ctx map[string]any) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := checkDiskSpace(l.path); err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: failed to generate event id: %w", err)
	}

	event := Event{
		Version:   schemaVer,
		ID:        id.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Source:    l.source,
		SessionID: l.sessionID,
		Target:    target,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
		Chain: Chain{
			Sequence: l.sequence + 1,
			PrevHash: l.prevHash,
		},
	}
	event.Chain.HMAC = l.sign(&event)

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

// Success records a successful operation.
func (l *Logger) Success(op, target string, ctx map[string]any) error {
	return l.Record(op, ResultSuccess, target, nil, ctx)
}

// Failure records a failed operation.
func (l *Logger) Failure(op, target, code string, cause error) error {
	info := &ErrorInfo{Code: code}
	if cause != nil {
		info.Message = cause.Error()
	}
	return l.Record(op, ResultError, target, info, nil)
}

// Denied records a refused operation.
func (l *Logger) Denied(op, target, reason string) error {
	return l.Record(op, ResultDenied, target, nil, map[string]any{"reason": reason})
}

// sign covers every field except the HMAC itself. Context keys are sorted.
func (l *Logger) sign(e *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s|", e.Version, e.ID, e.Timestamp,
		e.Operation, e.Source, e.SessionID, e.Target, e.Result)
	if e.Error != nil {
		fmt.Fprintf(&b, "%s|%s", e.Error.Code, e.Error.Message)
	}
	b.WriteByte('|')
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, e.Context[k])
	}
	fmt.Fprintf(&b, "|%d|%s", e.Chain.Sequence, e.Chain.PrevHash)

	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) writeEvent(e *Event) error {
	name := filepath.Join(l.path, time.Now().UTC().Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, metaFile))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.sequence = st.Sequence
	l.prevHash = st.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, metaFile), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify walks every record in order and checks sequence, linkage and HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	if l == nil {
		return &VerifyResult{Valid: true}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Valid: true, RecordsTotal: len(events)}
	prev := genesis
	for i, e := range events {
		want := int64(i + 1)
		if e.Chain.Sequence != want {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("sequence gap at record %s: expected %d, got %d", e.ID, want, e.Chain.Sequence))
		}
		if e.Chain.PrevHash != prev {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("chain broken at record %s", e.ID))
		}
		if !hmac.Equal([]byte(e.Chain.HMAC), []byte(l.sign(&e))) {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("HMAC mismatch at record %s: possible tampering", e.ID))
		}
		prev = e.Chain.HMAC
	}
	return res, nil
}

// List returns events newer than since (zero means all), keeping only the
// most recent limit events when limit > 0.
func (l *Logger) List(limit int, since time.Time) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Export renders events as "json" or "csv".
func Export(events []Event, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(events, "", "  ")
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		w.Write([]string{"timestamp", "operation", "source", "result", "target"})
		for _, e := range events {
			w.Write([]string{e.Timestamp, e.Operation, e.Source, e.Result, csvSafe(e.Target)})
		}
		w.Flush()
		return []byte(b.String()), w.Error()
	default:
		return nil, fmt.Errorf("audit: unsupported format: %s", format)
	}
}

// csvSafe neutralizes cells a spreadsheet would evaluate as a formula.
func csvSafe(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}

// Path returns the log directory.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM names sort chronologically.
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line == "" {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(line), &e); err != nil {
				return nil, fmt.Errorf("audit: failed to parse %s: %w", file, err)
			}
			events = append(events, e)
		}
	}
	return events, nil
}

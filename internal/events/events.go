// Package events turns mint program log lines back into typed events.
package events

import (
	"regexp"
	"sort"
	"strconv"

	"solana-pda-mint/internal/domain"
)

// Kind identifies an event type.
type Kind string

const (
	KindMintCreated  Kind = "mint_created"
	KindTokensMinted Kind = "tokens_minted"
)

// Event is one parsed program log.
type Event struct {
	Kind        Kind
	Address     string // mint for KindMintCreated, holder for KindTokensMinted
	Amount      uint64 // KindTokensMinted only
	TxSignature string
	EventIndex  int // index of the log line within the transaction
	Slot        int64
	Timestamp   int64 // unix seconds
}

var (
	invokePattern  = regexp.MustCompile(`^Program ([1-9A-HJ-NP-Za-km-z]+) invoke \[(\d+)\]$`)
	exitPattern    = regexp.MustCompile(`^Program ([1-9A-HJ-NP-Za-km-z]+) (?:success|failed: .*)$`)
	createdPattern = regexp.MustCompile(`^Program log: Created Mint Account: ([1-9A-HJ-NP-Za-km-z]+)$`)
	mintedPattern  = regexp.MustCompile(`^Program log: Minted (\d+) to ([1-9A-HJ-NP-Za-km-z]+)$`)
)

// Parser extracts events logged by one program.
type Parser struct {
	programID string
}

// NewParser creates a parser that only accepts lines logged while programID
// is executing, so other programs cannot forge events by logging the same text.
func NewParser(programID string) *Parser {
	return &Parser{programID: programID}
}

// ParseLogs extracts events from logs in order of appearance.
func (p *Parser) ParseLogs(logs []string, txSig string, slot, timestamp int64) []*Event {
	var (
		events []*Event
		stack  []string
	)

	for i, line := range logs {
		if m := invokePattern.FindStringSubmatch(line); m != nil {
			stack = append(stack, m[1])
			continue
		}
		if m := exitPattern.FindStringSubmatch(line); m != nil {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != p.programID {
			continue
		}

		event := &Event{
			TxSignature: txSig,
			EventIndex:  i,
			Slot:        slot,
			Timestamp:   timestamp,
		}
		if m := createdPattern.FindStringSubmatch(line); m != nil {
			event.Kind = KindMintCreated
			event.Address = m[1]
		} else if m := mintedPattern.FindStringSubmatch(line); m != nil {
			amount, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				continue
			}
			event.Kind = KindTokensMinted
			event.Amount = amount
			event.Address = m[2]
		} else {
			continue
		}
		events = append(events, event)
	}

	return events
}

// ParseRecord extracts events from a committed transaction. Failed
// transactions yield nothing since their effects were rolled back.
func (p *Parser) ParseRecord(rec *domain.TransactionRecord) []*Event {
	if rec == nil || !rec.Succeeded() {
		return nil
	}
	return p.ParseLogs(rec.LogMessages, rec.Signature, rec.Slot, rec.BlockTime)
}

// SortEvents sorts events by (slot, tx_signature, event_index).
func SortEvents(events []*Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Slot != events[j].Slot {
			return events[i].Slot < events[j].Slot
		}
		if events[i].TxSignature != events[j].TxSignature {
			return events[i].TxSignature < events[j].TxSignature
		}
		return events[i].EventIndex < events[j].EventIndex
	})
}

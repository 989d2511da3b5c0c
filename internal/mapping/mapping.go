// Package mapping resolves GL accounts to cost pools using the account map.
package mapping

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/ledger"
)

// UnmappedPool is the diagnostic bucket name for accounts with no pool.
const UnmappedPool = "Unmapped"

// ErrAccountConflict is wrapped by every ConflictError.
var ErrAccountConflict = errors.New("account mapped to conflicting pools")

// ConflictError reports an account mapped to more than one pool.
type ConflictError struct {
	Account string
	Pools   []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("account %s is mapped to pools %s; an account may feed only one pool",
		e.Account, strings.Join(e.Pools, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrAccountConflict
}

// Resolution is the mapping of a single account.
type Resolution struct {
	Pool         string
	BaseCategory string
	Unallowable  bool
	Mapped       bool
}

// Mapper resolves accounts against an account map. It is immutable after
// construction and safe for concurrent use.
type Mapper struct {
	accounts map[string]ledger.AccountMapping
	pools    []string
}

// NewMapper indexes mappings by trimmed account code. Duplicate rows naming
// the same pool are tolerated; rows naming different pools are a conflict.
func NewMapper(mappings []ledger.AccountMapping) (*Mapper, error) {
	m := &Mapper{accounts: make(map[string]ledger.AccountMapping, len(mappings))}
	conflicts := make(map[string][]string)
	poolSet := make(map[string]struct{})

	for _, mapping := range mappings {
		mapping.Account = strings.TrimSpace(mapping.Account)
		mapping.Pool = strings.TrimSpace(mapping.Pool)
		if mapping.Account == "" {
			continue
		}
		if existing, ok := m.accounts[mapping.Account]; ok {
			if existing.Pool != mapping.Pool {
				pools := conflicts[mapping.Account]
				if len(pools) == 0 {
					pools = append(pools, existing.Pool)
				}
				if !slices.Contains(pools, mapping.Pool) {
					pools = append(pools, mapping.Pool)
				}
				conflicts[mapping.Account] = pools
			}
			// Any duplicate row flagging the account unallowable wins.
			existing.IsUnallowable = existing.IsUnallowable || mapping.IsUnallowable
			m.accounts[mapping.Account] = existing
			continue
		}
		m.accounts[mapping.Account] = mapping
		if mapping.Pool != "" {
			poolSet[mapping.Pool] = struct{}{}
		}
	}

	if len(conflicts) > 0 {
		accounts := make([]string, 0, len(conflicts))
		for account := range conflicts {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		// Report the first conflict deterministically; the rest follow once fixed.
		return nil, &ConflictError{Account: accounts[0], Pools: conflicts[accounts[0]]}
	}

	for pool := range poolSet {
		m.pools = append(m.pools, pool)
	}
	sort.Strings(m.pools)
	return m, nil
}

// Resolve returns the mapping of account. Accounts absent from the map, or
// mapped with a blank pool, are reported as not mapped.
func (m *Mapper) Resolve(account string) Resolution {
	mapping, ok := m.accounts[strings.TrimSpace(account)]
	if !ok || mapping.Pool == "" {
		return Resolution{}
	}
	return Resolution{
		Pool:         mapping.Pool,
		BaseCategory: mapping.BaseCategory,
		Unallowable:  mapping.IsUnallowable,
		Mapped:       true,
	}
}

// Pools returns every pool named by the account map, sorted.
func (m *Mapper) Pools() []string {
	return slices.Clone(m.pools)
}

// HasPool reports whether any account maps to pool.
func (m *Mapper) HasPool(pool string) bool {
	_, found := slices.BinarySearch(m.pools, pool)
	return found
}

// AccountsForPools returns the sorted accounts mapped to any of pools.
func (m *Mapper) AccountsForPools(pools []string) []string {
	var accounts []string
	for account, mapping := range m.accounts {
		if slices.Contains(pools, mapping.Pool) {
			accounts = append(accounts, account)
		}
	}
	sort.Strings(accounts)
	return accounts
}

// MappedActual is a GL actual joined with its resolved pool.
type MappedActual struct {
	ledger.ActualRecord
	Pool         string
	BaseCategory string
}

// Result partitions GL actuals into pool numerator rows and the two
// disclosure buckets.
type Result struct {
	// Mapped rows feed pool numerators.
	Mapped []MappedActual

	// Unmapped rows have no pool; they are kept for diagnostics only.
	Unmapped []ledger.ActualRecord

	// Unallowable rows are excluded from pools but retained for disclosure.
	Unallowable []MappedActual

	Warnings []string
}

// MapActuals resolves every record. Accounts flagged IsUnallowable, and
// accounts mapped to one of unallowablePools, land in the unallowable bucket.
func (m *Mapper) MapActuals(records []ledger.ActualRecord, unallowablePools []string) Result {
	var result Result
	unmappedAccounts := make(map[string]struct{})

	for _, record := range records {
		res := m.Resolve(record.Account)
		if !res.Mapped {
			result.Unmapped = append(result.Unmapped, record)
			unmappedAccounts[strings.TrimSpace(record.Account)] = struct{}{}
			continue
		}
		mapped := MappedActual{ActualRecord: record, Pool: res.Pool, BaseCategory: res.BaseCategory}
		if res.Unallowable || slices.Contains(unallowablePools, res.Pool) {
			result.Unallowable = append(result.Unallowable, mapped)
			continue
		}
		result.Mapped = append(result.Mapped, mapped)
	}

	if len(unmappedAccounts) > 0 {
		accounts := make([]string, 0, len(unmappedAccounts))
		for account := range unmappedAccounts {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%d GL rows across %d accounts are unmapped and excluded from pools: %s",
			len(result.Unmapped), len(accounts), strings.Join(accounts, ", ")))
	}
	return result
}

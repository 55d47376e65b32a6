package asset

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Asset and account addresses are hex-encoded so the
// keys stay printable and prefix scans group records by asset.
const (
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
	prefixWhitelist = "wl:"
)

// balanceKey: "bal:{asset}:{holder}"
func balanceKey(asset, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), holder.Hex()))
}

// allowanceKey: "alw:{asset}:{owner}:{trader}"
func allowanceKey(asset, owner, trader common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, asset.Hex(), owner.Hex(), trader.Hex()))
}

// whitelistKey: "wl:{asset}:{account}"
func whitelistKey(asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixWhitelist, asset.Hex(), account.Hex()))
}

func parseAddressKey(key []byte, prefix string, parts int) ([]common.Address, error) {
	rest := strings.TrimPrefix(string(key), prefix)
	fields := strings.Split(rest, ":")
	if len(fields) != parts {
		return nil, fmt.Errorf("malformed key %q: want %d fields", key, parts)
	}
	out := make([]common.Address, parts)
	for i, f := range fields {
		if !common.IsHexAddress(f) {
			return nil, fmt.Errorf("malformed key %q: bad address %q", key, f)
		}
		out[i] = common.HexToAddress(f)
	}
	return out, nil
}

func (l *Ledger) saveBalance(asset, holder common.Address, b *Balance) error {
	if l.store == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	return l.store.Set(balanceKey(asset, holder), data)
}

func (l *Ledger) saveAllowance(asset, owner, trader common.Address, amount *big.Int) error {
	if l.store == nil {
		return nil
	}
	return l.store.Set(allowanceKey(asset, owner, trader), []byte(amount.String()))
}

// load restores balances, allowances and whitelist entries from the store.
func (l *Ledger) load() error {
	err := l.store.ScanPrefix([]byte(prefixBalance), func(key, val []byte) error {
		addrs, err := parseAddressKey(key, prefixBalance, 2)
		if err != nil {
			return err
		}
		var b Balance
		if err := json.Unmarshal(val, &b); err != nil {
			return fmt.Errorf("failed to unmarshal balance %q: %w", key, err)
		}
		if b.Available == nil {
			b.Available = new(big.Int)
		}
		if b.Blocked == nil {
			b.Blocked = new(big.Int)
		}
		l.balanceLocked(addrs[0], addrs[1]) // ensure maps exist
		l.balances[addrs[0]][addrs[1]] = &b
		return nil
	})
	if err != nil {
		return err
	}

	err = l.store.ScanPrefix([]byte(prefixAllowance), func(key, val []byte) error {
		addrs, err := parseAddressKey(key, prefixAllowance, 3)
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(string(val), 10)
		if !ok {
			return fmt.Errorf("malformed allowance value %q for key %q", val, key)
		}
		asset, owner, trader := addrs[0], addrs[1], addrs[2]
		if l.allowances[asset] == nil {
			l.allowances[asset] = make(map[common.Address]map[common.Address]*big.Int)
		}
		if l.allowances[asset][owner] == nil {
			l.allowances[asset][owner] = make(map[common.Address]*big.Int)
		}
		l.allowances[asset][owner][trader] = amount
		return nil
	})
	if err != nil {
		return err
	}

	return l.store.ScanPrefix([]byte(prefixWhitelist), func(key, val []byte) error {
		addrs, err := parseAddressKey(key, prefixWhitelist, 2)
		if err != nil {
			return err
		}
		asset, account := addrs[0], addrs[1]
		if l.whitelist[asset] == nil {
			l.whitelist[asset] = make(map[common.Address]bool)
		}
		l.whitelist[asset][account] = true
		return nil
	})
}

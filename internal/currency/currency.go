// Package currency converts between the four coin denominations and copper,
// the integer unit every balance and price is accounted in.
package currency

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Copper value of each denomination
const (
	CopperPerSilver   = 10
	CopperPerGold     = 100
	CopperPerPlatinum = 1000
)

// Coins is a purse of platinum, gold, silver and copper pieces
type Coins struct {
	PP int64 `json:"pp"`
	GP int64 `json:"gp"`
	SP int64 `json:"sp"`
	CP int64 `json:"cp"`
}

var denominations = []struct {
	name  string
	value int64
}{
	{"pp", CopperPerPlatinum},
	{"gp", CopperPerGold},
	{"sp", CopperPerSilver},
	{"cp", 1},
}

// Valid reports whether no component is negative
func (c Coins) Valid() bool {
	return c.PP >= 0 && c.GP >= 0 && c.SP >= 0 && c.CP >= 0
}

// ToBaseUnits returns the copper value of the purse
func ToBaseUnits(c Coins) int64 {
	return c.PP*CopperPerPlatinum + c.GP*CopperPerGold + c.SP*CopperPerSilver + c.CP
}

// FromBaseUnits splits a copper amount into the fewest coins.
// Negative amounts yield an empty purse.
func FromBaseUnits(base int64) Coins {
	if base <= 0 {
		return Coins{}
	}
	var c Coins
	c.PP, base = base/CopperPerPlatinum, base%CopperPerPlatinum
	c.GP, base = base/CopperPerGold, base%CopperPerGold
	c.SP, base = base/CopperPerSilver, base%CopperPerSilver
	c.CP = base
	return c
}

// RoundMajor converts an amount in gold pieces to copper, rounding half up
// on amount*100. Negative, NaN and infinite amounts yield 0.
func RoundMajor(gold float64) int64 {
	if math.IsNaN(gold) || math.IsInf(gold, 0) || gold <= 0 {
		return 0
	}
	return int64(math.Floor(gold*CopperPerGold + 0.5))
}

// Add returns the coin-wise sum of two purses
func (c Coins) Add(o Coins) Coins {
	return Coins{PP: c.PP + o.PP, GP: c.GP + o.GP, SP: c.SP + o.SP, CP: c.CP + o.CP}
}

// Subtract pays amount copper out of the purse. Smaller coins are spent
// first; when they do not cover the amount the smallest remaining larger
// coin is broken and the change is returned in smaller coins. ok is false,
// and the purse unchanged, when the purse is worth less than amount.
func (c Coins) Subtract(amount int64) (Coins, bool) {
	if amount <= 0 {
		return c, true
	}
	if !c.Valid() || ToBaseUnits(c) < amount {
		return c, false
	}

	counts := [4]int64{c.CP, c.SP, c.GP, c.PP}
	values := [4]int64{1, CopperPerSilver, CopperPerGold, CopperPerPlatinum}

	rest := amount
	for i := range counts {
		take := min(counts[i], rest/values[i])
		counts[i] -= take
		rest -= take * values[i]
	}

	if rest > 0 {
		// Every coin still in the purse is worth more than rest.
		for i := range counts {
			if counts[i] == 0 {
				continue
			}
			counts[i]--
			change := values[i] - rest
			for j := i - 1; j >= 0; j-- {
				counts[j] += change / values[j]
				change %= values[j]
			}
			rest = 0
			break
		}
	}

	return Coins{CP: counts[0], SP: counts[1], GP: counts[2], PP: counts[3]}, true
}

// Format renders a copper amount the way players read prices ("1 gp 5 cp")
func Format(base int64) string {
	if base == 0 {
		return "0 cp"
	}
	sign := ""
	if base < 0 {
		sign = "-"
		base = -base
	}
	c := FromBaseUnits(base)
	parts := make([]string, 0, 4)
	for _, d := range []struct {
		n    int64
		name string
	}{{c.PP, "pp"}, {c.GP, "gp"}, {c.SP, "sp"}, {c.CP, "cp"}} {
		if d.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", d.n, d.name))
		}
	}
	return sign + strings.Join(parts, " ")
}

// String renders the purse as held, without normalising it
func (c Coins) String() string {
	return fmt.Sprintf("%d pp, %d gp, %d sp, %d cp", c.PP, c.GP, c.SP, c.CP)
}

// ParseDenomination returns the copper value of a denomination name
func ParseDenomination(name string) (int64, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range denominations {
		if d.name == name {
			return d.value, true
		}
	}
	return 0, false
}

// ParsePrice reads a price such as "2 gp 5 sp", "3gp" or "150" (copper)
func ParsePrice(s string) (int64, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty price")
	}
	var total int64
	for i := 0; i < len(fields); i++ {
		num, unit := splitAmount(fields[i])
		if unit == "" && i+1 < len(fields) {
			if _, ok := ParseDenomination(fields[i+1]); ok {
				unit = fields[i+1]
				i++
			}
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad amount %q in price %q", num, s)
		}
		value := int64(1)
		if unit != "" {
			v, ok := ParseDenomination(unit)
			if !ok {
				return 0, fmt.Errorf("unknown denomination %q in price %q", unit, s)
			}
			value = v
		}
		total += n * value
	}
	return total, nil
}

func splitAmount(field string) (string, string) {
	i := strings.IndexFunc(field, func(r rune) bool { return r < '0' || r > '9' })
	if i < 0 {
		return field, ""
	}
	return field[:i], field[i:]
}

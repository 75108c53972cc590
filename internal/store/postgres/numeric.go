package postgres

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Token amounts are uint256 on chain and NUMERIC(78,0) in Postgres; the
// helpers below convert losslessly between *big.Int and pgtype.Numeric.

func numericFromBig(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = big.NewInt(0)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

func bigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid {
		return big.NewInt(0), nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("postgres: non-finite numeric")
	}

	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		// Amount columns are scale-0; a fractional value means corruption.
		return nil, fmt.Errorf("postgres: fractional amount (exp %d)", n.Exp)
	}
	return v, nil
}

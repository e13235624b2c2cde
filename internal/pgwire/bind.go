package pgwire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// bindParams renders every parameter of a Bind message as a SQL literal.
func bindParams(types *pgtype.Map, msg *pgproto3.Bind, oids []uint32) ([]string, error) {
	formats := msg.ParameterFormatCodes
	if len(formats) > 1 && len(formats) != len(msg.Parameters) {
		return nil, fmt.Errorf("bind has %d format codes for %d parameters", len(formats), len(msg.Parameters))
	}

	out := make([]string, len(msg.Parameters))
	for i, raw := range msg.Parameters {
		if raw == nil {
			out[i] = "NULL"
			continue
		}
		format := int16(pgtype.TextFormatCode)
		switch len(formats) {
		case 0:
		case 1:
			format = formats[0]
		default:
			format = formats[i]
		}
		var oid uint32
		if i < len(oids) {
			oid = oids[i]
		}

		lit, err := paramLiteral(types, format, oid, raw)
		if err != nil {
			return nil, fmt.Errorf("parameter $%d: %w", i+1, err)
		}
		out[i] = lit
	}
	return out, nil
}

// paramLiteral decodes one parameter value and renders it as a SQL literal.
// Values of unknown or textual type become quoted strings.
func paramLiteral(types *pgtype.Map, format int16, oid uint32, raw []byte) (string, error) {
	if format != pgtype.TextFormatCode && format != pgtype.BinaryFormatCode {
		return "", fmt.Errorf("unsupported format code %d", format)
	}

	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		var n int64
		if err := types.Scan(oid, format, raw, &n); err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case pgtype.Float4OID, pgtype.Float8OID:
		var f float64
		if err := types.Scan(oid, format, raw, &f); err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case pgtype.BoolOID:
		var b bool
		if err := types.Scan(oid, format, raw, &b); err != nil {
			return "", err
		}
		if b {
			return "TRUE", nil
		}
		return "FALSE", nil
	case pgtype.DateOID:
		var d time.Time
		if err := types.Scan(oid, format, raw, &d); err != nil {
			return "", err
		}
		return quoteLiteral(d.Format("2006-01-02")), nil
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		var ts time.Time
		if err := types.Scan(oid, format, raw, &ts); err != nil {
			return "", err
		}
		return quoteLiteral(ts.UTC().Format("2006-01-02 15:04:05.999999")), nil
	case 0, pgtype.TextOID, pgtype.VarcharOID:
		return quoteLiteral(string(raw)), nil
	default:
		if format == pgtype.BinaryFormatCode {
			return "", fmt.Errorf("unsupported binary parameter type %d", oid)
		}
		return quoteLiteral(string(raw)), nil
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// placeholders returns the highest $n referenced outside string literals
// and quoted identifiers.
func placeholders(query string) int {
	highest := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '$':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				if n, err := strconv.Atoi(query[i+1 : j]); err == nil && n > highest {
					highest = n
				}
				i = j - 1
			}
		}
	}
	return highest
}

// substitute replaces $n placeholders outside quotes with params[n-1].
func substitute(query string, params []string) (string, error) {
	if len(params) == 0 {
		return query, nil
	}
	var b strings.Builder
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '$':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				n, err := strconv.Atoi(query[i+1 : j])
				if err != nil || n < 1 || n > len(params) {
					return "", fmt.Errorf("placeholder %s has no bound parameter", query[i:j])
				}
				b.WriteString(params[n-1])
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

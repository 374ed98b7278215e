// Package normalize converts pgx-decoded values into Scalars.
//
// Each native category has one conversion: integers and booleans pass
// through, floats keep their value unless non-finite, numerics become an
// integer, float or decimal string depending on what survives exactly,
// temporal values become ISO-8601 strings, and everything else (binary,
// network, geometric, range, json, arrays) becomes text.
package normalize

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// Field describes one result column.
type Field struct {
	Name string
	OID  uint32
}

// Options control conversion.
type Options struct {
	// MaxValueBytes bounds the size of a single materialized value.
	// Zero disables the guard.
	MaxValueBytes int
}

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.999999999"
)

// Row converts one row. A value exceeding the size guard fails the row with
// an ExportTooLarge error naming the column.
func Row(values []any, fields []Field, opts Options) ([]Scalar, error) {
	if len(values) != len(fields) {
		return nil, errs.Newf(errs.KindInternal, "row has %d values for %d columns", len(values), len(fields))
	}
	out := make([]Scalar, len(values))
	for i, v := range values {
		s, err := Value(v, fields[i].OID, opts)
		if err != nil {
			if e, ok := errs.As(err); ok && e.Kind == errs.KindExportTooLarge {
				return nil, errs.Newf(errs.KindExportTooLarge, "value in column %q is %s", fields[i].Name, e.Message)
			}
			return nil, fmt.Errorf("column %q: %w", fields[i].Name, err)
		}
		out[i] = s
	}
	return out, nil
}

// Value converts a single value decoded for a column of type oid.
func Value(v any, oid uint32, opts Options) (Scalar, error) {
	s := convert(v, oid)
	if opts.MaxValueBytes > 0 && s.Len() > opts.MaxValueBytes {
		return Scalar{}, errs.Newf(errs.KindExportTooLarge, "%d bytes, exceeding the %d byte limit", s.Len(), opts.MaxValueBytes)
	}
	return s, nil
}

func convert(v any, oid uint32) Scalar {
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(val)
	case int:
		return Int(int64(val))
	case int8:
		return Int(int64(val))
	case int16:
		return Int(int64(val))
	case int32:
		return Int(int64(val))
	case int64:
		return Int(val)
	case uint8:
		return Int(int64(val))
	case uint16:
		return Int(int64(val))
	case uint32:
		return Int(int64(val))
	case uint64:
		if val > math.MaxInt64 {
			return String(strconv.FormatUint(val, 10))
		}
		return Int(int64(val))
	case float32:
		return floatScalar(float64(val))
	case float64:
		return floatScalar(val)
	case string:
		return String(val)
	case []byte:
		return String(base64.StdEncoding.EncodeToString(val))
	case time.Time:
		return String(formatTime(val, oid))
	case pgtype.InfinityModifier:
		return String(val.String())
	case pgtype.Numeric:
		return numericScalar(val)
	case map[string]any, []any:
		b, err := json.Marshal(plain(val))
		if err != nil {
			return String(fmt.Sprint(val))
		}
		return String(string(b))
	}
	if text, ok := textOf(v); ok {
		if text == nil {
			return Null()
		}
		return String(*text)
	}
	if str, ok := v.(fmt.Stringer); ok {
		return String(str.String())
	}
	return String(fmt.Sprint(v))
}

func floatScalar(f float64) Scalar {
	switch {
	case math.IsNaN(f):
		return String("NaN")
	case math.IsInf(f, 1):
		return String("Infinity")
	case math.IsInf(f, -1):
		return String("-Infinity")
	}
	return Float(f)
}

func formatTime(t time.Time, oid uint32) string {
	switch oid {
	case pgtype.DateOID:
		return t.Format(dateLayout)
	case pgtype.TimestampOID:
		return t.Format(timestampLayout)
	default:
		return t.Format(time.RFC3339Nano)
	}
}

// numericScalar keeps integral values that fit int64 as integers, values
// (integral or not) that survive a float64 round trip as floats, and
// everything else as the exact decimal string.
func numericScalar(n pgtype.Numeric) Scalar {
	if !n.Valid {
		return Null()
	}
	if n.NaN {
		return String("NaN")
	}
	switch n.InfinityModifier {
	case pgtype.Infinity:
		return String("Infinity")
	case pgtype.NegativeInfinity:
		return String("-Infinity")
	}
	text := numericText(n)
	if !strings.Contains(text, ".") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(i)
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err == nil && strconv.FormatFloat(f, 'f', -1, 64) == text {
		return Float(f)
	}
	return String(text)
}

// numericText renders n in plain decimal notation with trailing fractional
// zeros removed.
func numericText(n pgtype.Numeric) string {
	digits := new(big.Int).Abs(n.Int).String()
	neg := n.Int.Sign() < 0
	exp := int(n.Exp)

	var text string
	switch {
	case exp >= 0:
		text = digits + strings.Repeat("0", exp)
	default:
		scale := -exp
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		intPart := digits[:len(digits)-scale]
		frac := strings.TrimRight(digits[len(digits)-scale:], "0")
		text = intPart
		if frac != "" {
			text += "." + frac
		}
	}
	if neg && strings.Trim(text, "0.") != "" {
		text = "-" + text
	}
	return text
}

// textOf renders PostgreSQL-specific types. A nil pointer result means the
// value is SQL NULL; ok is false for types it does not know.
func textOf(v any) (*string, bool) {
	str := func(s string) (*string, bool) { return &s, true }
	null := func() (*string, bool) { return nil, true }

	switch val := v.(type) {
	case [16]byte:
		return str(uuid.UUID(val).String())
	case netip.Prefix:
		return str(val.String())
	case netip.Addr:
		return str(val.String())
	case net.HardwareAddr:
		return str(val.String())
	case time.Duration:
		return str(val.String())
	case pgtype.Time:
		if !val.Valid {
			return null()
		}
		return str(formatClock(val.Microseconds))
	case pgtype.Interval:
		if !val.Valid {
			return null()
		}
		return str(formatInterval(val))
	case pgtype.Range[any]:
		if !val.Valid {
			return null()
		}
		return str(formatRange(val))
	case pgtype.Point:
		if !val.Valid {
			return null()
		}
		return str(fmt.Sprintf("(%g,%g)", val.P.X, val.P.Y))
	case pgtype.Line:
		if !val.Valid {
			return null()
		}
		return str(fmt.Sprintf("{%g,%g,%g}", val.A, val.B, val.C))
	case pgtype.Lseg:
		if !val.Valid {
			return null()
		}
		return str(fmt.Sprintf("[(%g,%g),(%g,%g)]", val.P[0].X, val.P[0].Y, val.P[1].X, val.P[1].Y))
	case pgtype.Box:
		if !val.Valid {
			return null()
		}
		return str(fmt.Sprintf("(%g,%g),(%g,%g)", val.P[0].X, val.P[0].Y, val.P[1].X, val.P[1].Y))
	case pgtype.Path:
		if !val.Valid {
			return null()
		}
		joined := joinPoints(val.P)
		if val.Closed {
			return str("(" + joined + ")")
		}
		return str("[" + joined + "]")
	case pgtype.Polygon:
		if !val.Valid {
			return null()
		}
		return str("(" + joinPoints(val.P) + ")")
	case pgtype.Circle:
		if !val.Valid {
			return null()
		}
		return str(fmt.Sprintf("<(%g,%g),%g>", val.P.X, val.P.Y, val.R))
	case pgtype.Bits:
		if !val.Valid {
			return null()
		}
		return str(formatBits(val))
	}
	return nil, false
}

func formatClock(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// formatInterval renders an ISO-8601 duration such as P1Y2M3DT4H5M6.5S.
func formatInterval(iv pgtype.Interval) string {
	if iv.Months == 0 && iv.Days == 0 && iv.Microseconds == 0 {
		return "PT0S"
	}
	var sb strings.Builder
	sb.WriteByte('P')
	if years := iv.Months / 12; years != 0 {
		fmt.Fprintf(&sb, "%dY", years)
	}
	if months := iv.Months % 12; months != 0 {
		fmt.Fprintf(&sb, "%dM", months)
	}
	if iv.Days != 0 {
		fmt.Fprintf(&sb, "%dD", iv.Days)
	}
	if us := iv.Microseconds; us != 0 {
		sb.WriteByte('T')
		neg := us < 0
		if neg {
			us = -us
		}
		sign := ""
		if neg {
			sign = "-"
		}
		hours := us / 3_600_000_000
		us -= hours * 3_600_000_000
		minutes := us / 60_000_000
		us -= minutes * 60_000_000
		if hours != 0 {
			fmt.Fprintf(&sb, "%s%dH", sign, hours)
		}
		if minutes != 0 {
			fmt.Fprintf(&sb, "%s%dM", sign, minutes)
		}
		if us != 0 {
			secs := strconv.FormatFloat(float64(us)/1e6, 'f', -1, 64)
			fmt.Fprintf(&sb, "%s%sS", sign, secs)
		}
	}
	return sb.String()
}

func formatRange(r pgtype.Range[any]) string {
	if r.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if r.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if r.LowerType != pgtype.Unbounded {
		sb.WriteString(convert(r.Lower, 0).Text())
	}
	sb.WriteByte(',')
	if r.UpperType != pgtype.Unbounded {
		sb.WriteString(convert(r.Upper, 0).Text())
	}
	if r.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

func joinPoints(points []pgtype.Vec2) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("(%g,%g)", p.X, p.Y)
	}
	return strings.Join(parts, ",")
}

func formatBits(b pgtype.Bits) string {
	out := make([]byte, b.Len)
	for i := int32(0); i < b.Len; i++ {
		if b.Bytes[i/8]&(1<<uint(7-i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

// plain prepares nested json/array values for json.Marshal.
func plain(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case nil, bool, string, json.Number:
		return val
	}
	return convert(v, 0)
}

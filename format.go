package flatsdf

import (
	"errors"
	"strconv"
)

// formatBudget is the maximum number of entities written by [AppendFormat].
const formatBudget = 512

var errFormatBudget = errors.New("format budget exhausted")

// FormatEntity renders the tree rooted at e in prefix form, i.e.
//
//	union(sphere(0,0,0,1),offset[0.5](box(-1,-1,-1,1,1,1)))
//
// Shared entities are printed once per reference. Output is cut short with "..."
// once formatBudget entities have been written. Used for logs and error messages.
func FormatEntity(e Entity) string {
	return string(AppendFormat(nil, e))
}

// AppendFormat appends the prefix form of e to dst. See [FormatEntity].
func AppendFormat(dst []byte, e Entity) []byte {
	budget := formatBudget
	dst, _ = appendFormat(dst, e, &budget)
	return dst
}

func appendFormat(dst []byte, e Entity, budget *int) ([]byte, error) {
	if *budget <= 0 {
		return append(dst, "..."...), errFormatBudget
	}
	*budget--
	switch node := e.(type) {
	case nil:
		return append(dst, "<nil>"...), nil
	case Primitive:
		var buf [MaxParams]float32
		dst = append(dst, node.Kind().String()...)
		return appendFloats(dst, '(', ')', node.AppendParams(buf[:0])), nil
	case Composite:
		op := node.Op()
		prm := node.OpParams()
		dst = append(dst, op.String()...)
		switch {
		case op == OpOffset:
			dst = append(dst, '[')
			dst = strconv.AppendFloat(dst, float64(prm.Distance), 'g', -1, 32)
			dst = append(dst, ']')
		case op.IsBlend():
			dst = appendFloats(dst, '[', ']', []float32{prm.P1.X, prm.P1.Y, prm.P1.Z, prm.P2.X, prm.P2.Y, prm.P2.Z})
		}
		dst = append(dst, '(')
		first := true
		err := node.ForEachChild(nil, func(_ any, child Entity) (err error) {
			if !first {
				dst = append(dst, ',')
			}
			first = false
			dst, err = appendFormat(dst, child, budget)
			return err
		})
		if err != nil && !errors.Is(err, errFormatBudget) {
			dst = append(dst, "<"...)
			dst = append(dst, err.Error()...)
			dst = append(dst, ">"...)
			err = nil
		}
		return append(dst, ')'), err
	}
	return append(dst, "<unknown>"...), nil
}

func appendFloats(dst []byte, open, close byte, v []float32) []byte {
	dst = append(dst, open)
	for i, f := range v {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = strconv.AppendFloat(dst, float64(f), 'g', -1, 32)
	}
	return append(dst, close)
}

package tools

import (
	"encoding/base64"
	"fmt"
	"math"
	"slices"
	"time"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
)

// maxDecodedUpload caps decoded base64 payloads at 1 GiB.
const maxDecodedUpload = 1 << 30

// maxEncodedUpload is the longest base64 string that can decode within the
// ceiling. Checked before decoding so oversized payloads are rejected cheaply.
var maxEncodedUpload = base64.StdEncoding.EncodedLen(maxDecodedUpload)

// Validate checks named arguments against a tool's declared contract.
// Failures name the offending field in the error data.
func Validate(desc Descriptor, args map[string]any) error {
	declared := make(map[string]Param, len(desc.Params))
	for _, p := range desc.Params {
		declared[p.Name] = p
	}

	for name := range args {
		if _, ok := declared[name]; !ok {
			return apperrors.NewInvalidParams(
				fmt.Sprintf("unknown parameter: %s", name), name)
		}
	}

	for _, p := range desc.Params {
		value, present := args[p.Name]
		if !present {
			if p.Required {
				return apperrors.NewInvalidParams(
					fmt.Sprintf("missing required parameter: %s", p.Name), p.Name)
			}
			continue
		}
		if err := validateValue(p, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(p Param, value any) error {
	switch p.Type {
	case TypeString, TypeDate, TypeEnum, TypeBase64:
		s, ok := value.(string)
		if !ok {
			return apperrors.NewInvalidParams(
				fmt.Sprintf("parameter %s must be a string", p.Name), p.Name)
		}
		if s == "" {
			return apperrors.NewInvalidParams(
				fmt.Sprintf("parameter %s must not be empty", p.Name), p.Name)
		}
		switch p.Type {
		case TypeDate:
			if _, err := time.Parse(time.DateOnly, s); err != nil {
				return apperrors.NewInvalidParams(
					fmt.Sprintf("parameter %s must be an ISO 8601 date (YYYY-MM-DD)", p.Name), p.Name)
			}
		case TypeEnum:
			if !slices.Contains(p.Enum, s) {
				return apperrors.NewInvalidParams(
					fmt.Sprintf("parameter %s must be one of %v", p.Name, p.Enum), p.Name)
			}
		case TypeBase64:
			if len(s) > maxEncodedUpload {
				return apperrors.NewInvalidParams(
					fmt.Sprintf("parameter %s exceeds the 1 GiB decoded size ceiling", p.Name), p.Name)
			}
		}
		return nil

	case TypeInteger:
		// JSON numbers arrive as float64; accept only integral values.
		f, ok := value.(float64)
		if !ok || f != math.Trunc(f) {
			return apperrors.NewInvalidParams(
				fmt.Sprintf("parameter %s must be an integer", p.Name), p.Name)
		}
		return nil

	default:
		return apperrors.NewInternal(
			fmt.Sprintf("tool declares unsupported parameter type %q", p.Type), nil)
	}
}

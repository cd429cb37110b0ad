package providers

import (
	"fmt"
	"strconv"
	"strings"
)

// TileRequest identifies one slippy-map tile.
type TileRequest struct {
	Z     int
	X     int
	Y     int
	Style string
}

// ResolveTileURL expands a provider's tile template for a concrete tile.
// Unknown styles are rejected rather than forwarded so a bad request never
// reaches the upstream provider. The secret is substituted last so it never
// appears in any intermediate value.
func ResolveTileURL(p Provider, req TileRequest, secret string) (string, error) {
	style := req.Style
	if style == "" {
		style = p.DefaultStyle()
	} else if !p.SupportsStyle(style) {
		return "", fmt.Errorf("%w: provider %s does not publish style %q", ErrUnsupportedStyle, p.ID, style)
	}

	if req.Z < 0 || req.X < 0 || req.Y < 0 {
		return "", fmt.Errorf("%w: tile coordinates must be non-negative", ErrInvalidProvider)
	}

	if p.RequiresCredential && strings.Contains(p.TileURLTemplate, "{key}") && secret == "" {
		return "", fmt.Errorf("%w: %s", ErrCredentialMissing, p.ID)
	}

	replacer := strings.NewReplacer(
		"{z}", strconv.Itoa(req.Z),
		"{x}", strconv.Itoa(req.X),
		"{y}", strconv.Itoa(req.Y),
		"{style}", style,
		"{key}", secret,
	)

	return replacer.Replace(p.TileURLTemplate), nil
}

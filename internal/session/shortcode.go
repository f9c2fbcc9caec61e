package session

import (
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Shortcodes of private items carry a suffix after the first 11 characters.
const shortcodeKeyLen = 11

var (
	shortcodePath = regexp.MustCompile(`/(?:p|reels?|tv)/([A-Za-z0-9_-]+)`)
	storyPath     = regexp.MustCompile(`/stories/[^/]+/(\d+)`)
)

// KeyFromShortcode decodes a base64-alphabet shortcode into its numeric key.
func KeyFromShortcode(code string) (string, error) {
	if code == "" {
		return "", eris.Wrap(ErrUnresolvable, "session: empty shortcode")
	}
	if len(code) > shortcodeKeyLen {
		code = code[:shortcodeKeyLen]
	}
	n := new(big.Int)
	base := big.NewInt(int64(len(shortcodeAlphabet)))
	for _, r := range code {
		idx := strings.IndexRune(shortcodeAlphabet, r)
		if idx < 0 {
			return "", eris.Wrapf(ErrUnresolvable, "session: invalid shortcode character %q", r)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	if n.Sign() == 0 {
		return "", eris.Wrap(ErrUnresolvable, "session: shortcode decodes to zero")
	}
	return n.String(), nil
}

// KeyFromURL extracts the numeric key from an item URL without any network
// call. Story URLs carry the key directly; everything else is decoded from
// its shortcode.
func KeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(ErrUnresolvable, "session: parse url: %v", err)
	}
	if m := storyPath.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if m := shortcodePath.FindStringSubmatch(u.Path); m != nil {
		return KeyFromShortcode(m[1])
	}
	return "", eris.Wrapf(ErrUnresolvable, "session: no shortcode in %q", u.Path)
}

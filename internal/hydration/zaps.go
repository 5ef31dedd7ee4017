package hydration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

var bolt11Amount = regexp.MustCompile(`lnbc(\d+)([munp]?)`)

// parseZapSats extracts the zapped amount in satoshis from a kind 9735
// receipt, preferring the bolt11 tag and falling back to the content.
func parseZapSats(event *nostr.Event) int64 {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "bolt11" {
			if sats, err := parseInvoiceAmount(tag[1]); err == nil {
				return sats
			}
		}
	}

	sats, err := parseInvoiceAmount(event.Content)
	if err != nil {
		return 0
	}
	return sats
}

// zapSender returns the pubkey that requested the zap, parsed from the
// embedded kind 9734 request in the description tag. The receipt's own
// author is the wallet service, not the sender.
func zapSender(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "description" {
			continue
		}
		var request struct {
			Pubkey string `json:"pubkey"`
		}
		if err := json.Unmarshal([]byte(tag[1]), &request); err != nil {
			return ""
		}
		return request.Pubkey
	}
	return ""
}

// parseInvoiceAmount extracts the amount in satoshis from a bolt11 invoice.
// This is a simplified parser covering the lnbc human-readable part.
func parseInvoiceAmount(invoice string) (int64, error) {
	matches := bolt11Amount.FindStringSubmatch(invoice)
	if len(matches) < 2 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, err
	}

	multiplier := ""
	if len(matches) >= 3 {
		multiplier = matches[2]
	}

	switch multiplier {
	case "m": // millibitcoin = 100,000 sats
		amount = amount * 100000
	case "u": // microbitcoin = 100 sats
		amount = amount * 100
	case "n": // nanobitcoin = 0.1 sats
		amount = amount / 10
	case "p": // picobitcoin = 0.0001 sats
		amount = amount / 10000
	default: // whole bitcoin
		amount = amount * 100000000
	}

	return amount, nil
}

// FormatSats formats satoshis for display.
func FormatSats(sats int64) string {
	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}

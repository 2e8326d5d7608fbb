// Package pix builds Pix "BR Code" payloads (EMV merchant-presented QR)
// and renders them as QR images.
package pix

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	idPayloadFormat     = "00"
	idPointOfInitiation = "01"
	idMerchantAccount   = "26"
	idMCC               = "52"
	idCurrency          = "53"
	idAmount            = "54"
	idCountry           = "58"
	idMerchantName      = "59"
	idMerchantCity      = "60"
	idAdditionalData    = "62"
	idCRC               = "63"

	idAccountGUI  = "00"
	idAccountKey  = "01"
	idAccountInfo = "02"
	idTxID        = "05"

	gui             = "br.gov.bcb.pix"
	currencyBRL     = "986"
	countryBR       = "BR"
	defaultMCC      = "0000"
	maxNameLength   = 25
	maxCityLength   = 15
	maxTxIDLength   = 25
	maxFieldLength  = 99
	unspecifiedTxID = "***"
)

var (
	ErrMissingKey      = errors.New("pix: key is required")
	ErrMissingMerchant = errors.New("pix: merchant name and city are required")
	ErrInvalidAmount   = errors.New("pix: amount must be positive")
	ErrFieldTooLong    = errors.New("pix: field value too long")
)

// Payload describes one Pix charge.
type Payload struct {
	Key          string
	Description  string
	MerchantName string
	MerchantCity string
	Amount       decimal.Decimal
	TxID         string
	// OneTime marks the code as valid for a single payment.
	OneTime bool
}

// Build encodes p as a BR Code string, CRC included.
func (p *Payload) Build() (string, error) {
	if p.Key == "" {
		return "", ErrMissingKey
	}
	if p.MerchantName == "" || p.MerchantCity == "" {
		return "", ErrMissingMerchant
	}
	if !p.Amount.IsPositive() {
		return "", ErrInvalidAmount
	}

	txID := p.TxID
	if txID == "" {
		txID = unspecifiedTxID
	}
	if len(txID) > maxTxIDLength {
		return "", fmt.Errorf("%w: txid %q", ErrFieldTooLong, txID)
	}

	account := field(idAccountGUI, gui) + field(idAccountKey, p.Key)
	if len(account) > maxFieldLength {
		return "", fmt.Errorf("%w: pix key", ErrFieldTooLong)
	}
	// The description is informative only: it is cut to whatever room the
	// key leaves, and dropped when there is none.
	if room := maxFieldLength - len(account) - 4; room > 0 {
		if desc := strings.TrimSpace(truncate(normalize(p.Description), room)); desc != "" {
			account += field(idAccountInfo, desc)
		}
	}

	var b strings.Builder
	b.WriteString(field(idPayloadFormat, "01"))
	if p.OneTime {
		b.WriteString(field(idPointOfInitiation, "12"))
	}
	b.WriteString(field(idMerchantAccount, account))
	b.WriteString(field(idMCC, defaultMCC))
	b.WriteString(field(idCurrency, currencyBRL))
	b.WriteString(field(idAmount, p.Amount.StringFixed(2)))
	b.WriteString(field(idCountry, countryBR))
	b.WriteString(field(idMerchantName, truncate(normalize(p.MerchantName), maxNameLength)))
	b.WriteString(field(idMerchantCity, truncate(normalize(p.MerchantCity), maxCityLength)))
	b.WriteString(field(idAdditionalData, field(idTxID, txID)))

	// The checksum covers everything up to and including its own id and length.
	b.WriteString(idCRC + "04")
	b.WriteString(fmt.Sprintf("%04X", CRC16(b.String())))

	return b.String(), nil
}

// Verify reports whether payload ends with a valid CRC field.
func Verify(payload string) bool {
	if len(payload) < 8 || payload[len(payload)-8:len(payload)-4] != idCRC+"04" {
		return false
	}
	body, sum := payload[:len(payload)-4], payload[len(payload)-4:]
	return fmt.Sprintf("%04X", CRC16(body)) == strings.ToUpper(sum)
}

// CRC16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF), as mandated for BR Codes.
func CRC16(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func field(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// normalize strips the accents the EMV alphanumeric set does not allow.
func normalize(s string) string {
	replacer := strings.NewReplacer(
		"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
		"é", "e", "ê", "e", "è", "e",
		"í", "i", "ì", "i",
		"ó", "o", "ô", "o", "õ", "o", "ò", "o",
		"ú", "u", "ü", "u", "ù", "u",
		"ç", "c",
		"Á", "A", "À", "A", "Â", "A", "Ã", "A",
		"É", "E", "Ê", "E",
		"Í", "I",
		"Ó", "O", "Ô", "O", "Õ", "O",
		"Ú", "U", "Ü", "U",
		"Ç", "C",
	)
	out := replacer.Replace(s)

	var b strings.Builder
	for _, r := range out {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	return b.String()
}

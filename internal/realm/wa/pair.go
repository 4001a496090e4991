package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrAlreadyPaired is returned by Pair when the device store holds
	// credentials.
	ErrAlreadyPaired = errors.New("wa: device already paired")
	// ErrPairTimeout is returned when no QR code was scanned in time.
	ErrPairTimeout = errors.New("wa: pairing timed out")
)

// Pair links the device store to a phone. Every QR code the server rotates
// is passed to show. It returns once the phone confirmed the link.
func (a *Adapter) Pair(ctx context.Context, show func(code string)) error {
	if a.IsLoggedIn() {
		return ErrAlreadyPaired
	}
	// GetQRChannel must be called before Connect.
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := a.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer a.Disconnect()

	for item := range qrChan {
		switch item.Event {
		case "code":
			show(item.Code)
		case "success":
			a.logger.Info("device paired")
			return nil
		case "timeout":
			return ErrPairTimeout
		default:
			if item.Error != nil {
				return fmt.Errorf("pairing: %w", item.Error)
			}
			return fmt.Errorf("pairing: %s", item.Event)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrPairTimeout
}

// RenderQR draws content as a terminal QR code. Two bitmap rows share one
// line through Unicode half blocks.
func RenderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}

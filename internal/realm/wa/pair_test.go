package wa

import (
	"strings"
	"testing"

	qrcode "github.com/skip2/go-qrcode"
)

func TestRenderQR(t *testing.T) {
	const content = "2@abc,def,ghi"
	out, err := RenderQR(content)
	if err != nil {
		t.Fatal(err)
	}

	qr, _ := qrcode.New(content, qrcode.Low)
	rows := len(qr.Bitmap())
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != (rows+1)/2 {
		t.Errorf("lines = %d, want %d", len(lines), (rows+1)/2)
	}
	if !strings.ContainsRune(out, '█') {
		t.Error("no filled modules rendered")
	}
}

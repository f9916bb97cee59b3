package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"swapchain/core/events"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("escrowd", "test", WithWriter(&buf), WithLevel(slog.LevelDebug))
	logger.Info("call committed", slog.String("method", "withdraw"), MaskBytes("secret", []byte("s3cr3t")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "call committed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "escrowd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "withdraw", line["method"])
	require.Equal(t, RedactedValue, line["secret"])
	require.Contains(t, line, "timestamp")
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "0xabc", MaskField("order_hash", "0xabc").Value.String())
	require.Equal(t, RedactedValue, MaskField("preimage", "deadbeef").Value.String())
	require.Equal(t, " ", MaskField("preimage", " ").Value.String())
	require.Equal(t, "", MaskBytes("preimage", nil).Value.String())
	require.Equal(t, RedactedValue, MaskValue("x"))
	require.Contains(t, RedactionAllowlist(), "request_id")
}

func TestEventLoggerMasksAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("escrowd", "test", WithWriter(&buf), WithLevel(slog.LevelDebug))
	emitter := EventLogger(logger)
	emitter.Emit(events.EscrowRefunded{OrderHash: [32]byte{0x01}, Recipient: [20]byte{0x02}, Amount: big.NewInt(90)})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "event committed", line["message"])
	require.Equal(t, events.TypeEscrowRefunded, line["type"])
	require.Equal(t, "0x01"+strings.Repeat("00", 31), line["order_hash"])
	require.Equal(t, RedactedValue, line["amount"])
	require.Equal(t, RedactedValue, line["recipient"])
	require.NotContains(t, line, "orderHash")

	buf.Reset()
	quiet := EventLogger(Setup("escrowd", "test", WithWriter(&buf)))
	quiet.Emit(events.EscrowRefunded{OrderHash: [32]byte{0x01}, Amount: big.NewInt(1)})
	require.Zero(t, buf.Len(), "events are logged at debug level only")
}

package events

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []string
}

func (r *recorder) Emit(evt Event) { r.got = append(r.got, evt.EventType()) }

func TestFanoutDeliversToEveryMember(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	fan := Fanout{first, nil, second}
	fan.Emit(EscrowRefunded{OrderHash: [32]byte{1}, Amount: big.NewInt(5)})
	fan.Emit(SecretShared{OrderHash: [32]byte{1}})
	require.Equal(t, []string{TypeEscrowRefunded, TypeSecretShared}, first.got)
	require.Equal(t, first.got, second.got)
}

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(nil)
	buf.Emit(SecretShared{})
	buf.Emit(EscrowRefunded{Amount: big.NewInt(1)})
	require.Len(t, buf.Events(), 2)

	sink := &recorder{}
	buf.FlushTo(Fanout{sink}, nil)
	require.Equal(t, []string{TypeSecretShared, TypeEscrowRefunded}, sink.got)
	require.Empty(t, buf.Events())

	rendered := Render(EscrowRefunded{OrderHash: [32]byte{0xaa}, Amount: big.NewInt(1)})
	require.Equal(t, TypeEscrowRefunded, rendered.Type)
	require.Contains(t, rendered.OrderHash(), "0xaa")
	require.Nil(t, Render(nil))
}

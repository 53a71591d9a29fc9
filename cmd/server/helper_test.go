package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/flux-aggregator/internal/model"
)

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xa1"), addr)

	_, err = parseAddress("not-an-address")
	require.Error(t, err)
	_, err = parseAddress("")
	require.Error(t, err)
}

func TestParseBig(t *testing.T) {
	v, err := parseBig("1000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", v.String())

	_, err = parseBig("1.5")
	require.Error(t, err)
	_, err = parseBig("")
	require.Error(t, err)
}

func TestParseRound(t *testing.T) {
	round, err := parseRound("")
	require.NoError(t, err)
	require.Equal(t, model.NoRound, round)

	round, err = parseRound("42")
	require.NoError(t, err)
	require.Equal(t, model.RoundID(42), round)

	_, err = parseRound("-1")
	require.Error(t, err)
}

func TestParseSignature(t *testing.T) {
	sig, err := parseSignature("")
	require.NoError(t, err)
	require.Nil(t, sig)

	sig, err = parseSignature("0xdeadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sig)

	_, err = parseSignature("zz")
	require.Error(t, err)
}

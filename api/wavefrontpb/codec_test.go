package wavefrontpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecIsRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, CodecName, c.Name())
}

func TestShutdownSentinelSurvivesEncoding(t *testing.T) {
	var c Codec
	b, err := c.Marshal(&StartTask{TaskID: -1})
	require.NoError(t, err)

	var got StartTask
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, int64(-1), got.TaskID)
}

func TestPackedDoubles(t *testing.T) {
	var c Codec
	in := &PutRequest{ChunkID: 3, Data: []float64{1.5, -2, 0, 1e300}}
	b, err := c.Marshal(in)
	require.NoError(t, err)

	var out PutRequest
	require.NoError(t, c.Unmarshal(b, &out))
	assert.Equal(t, *in, out)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	b := marshal(&StepDone{WorkerID: 1, TaskID: 4, Step: 2, Result: 9})
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, "extra")

	var got StepDone
	require.NoError(t, unmarshal(b, &got))
	assert.Equal(t, StepDone{WorkerID: 1, TaskID: 4, Step: 2, Result: 9}, got)
}

func TestTruncatedInputFails(t *testing.T) {
	b := marshal(&ScoreList{TaskIDs: []int64{1, 2, 300}})
	var got ScoreList
	assert.Error(t, unmarshal(b[:len(b)-1], &got))
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	var c Codec
	_, err := c.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(nil, new(int)))
}

package network

import (
	"context"
	"net"
	"testing"
	"time"

	"listdb/pkg/common"
	"listdb/pkg/core"
	"listdb/pkg/core/memory"
	"listdb/pkg/logger"
	"listdb/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idField = common.NewField("id", common.KindLong, common.AsPrimaryKey())
	fields  = common.FieldList{idField}
)

func newServer(t *testing.T, n int) *TCPServer {
	t.Helper()
	mt, err := memory.NewMemTable("t", fields, 8)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		r, err := common.NewRecordOf(fields, []common.Value{common.NewLong(int64(i))})
		require.NoError(t, err)
		_, err = mt.Insert(context.Background(), r)
		require.NoError(t, err)
	}
	list, err := core.NewListPersistor(mt, common.NewOrder(common.Asc(idField)), core.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = list.Close() })
	srv := NewTCPServer(list, 0)
	srv.log = logger.Discard()
	return srv
}

func request(t *testing.T, conn net.Conn, op byte, key []byte, payload any) *protocol.Packet {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, protocol.WriteMessage(conn, op, key, payload, 0))
	pkt, err := protocol.Decode(conn)
	require.NoError(t, err)
	return pkt
}

func TestServeOverListener(t *testing.T) {
	srv := newServer(t, 20)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	pkt := request(t, conn, protocol.OpRow, protocol.Int64Key(7), nil)
	require.Equal(t, byte(protocol.RespVal), pkt.Code())
	var resp protocol.Response
	require.NoError(t, pkt.Unmarshal(&resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "8", resp.Records[0]["id"])

	pkt = request(t, conn, protocol.OpInvalidate, nil, nil)
	assert.Equal(t, byte(protocol.RespOK), pkt.Code())

	require.NoError(t, srv.Shutdown())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	// the open connection was closed by Shutdown
	_, err = protocol.Decode(conn)
	assert.Error(t, err)
}

func TestBadRequests(t *testing.T) {
	srv := newServer(t, 5)
	a, b := net.Pipe()
	go srv.ServeConn(a)
	defer b.Close()

	pkt := request(t, b, protocol.OpRow, []byte{1, 2}, nil)
	assert.Equal(t, byte(protocol.RespErr), pkt.Code())
	assert.Equal(t, []byte{protocol.CodeInvalid}, pkt.Key)

	pkt = request(t, b, 0x55, nil, nil)
	assert.Equal(t, []byte{protocol.CodeInvalid}, pkt.Key)

	pkt = request(t, b, protocol.OpRow, protocol.Int64Key(5), nil)
	assert.Equal(t, []byte{protocol.CodeOutOfRange}, pkt.Key)

	pkt = request(t, b, protocol.OpScope, nil, "id >>")
	assert.Equal(t, []byte{protocol.CodeInvalid}, pkt.Key)

	// the connection survives errors
	pkt = request(t, b, protocol.OpSize, nil, nil)
	require.Equal(t, byte(protocol.RespVal), pkt.Code())
	var resp protocol.Response
	require.NoError(t, pkt.Unmarshal(&resp))
	assert.Equal(t, int64(5), resp.Size)
}

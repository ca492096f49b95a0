package network

import (
	"context"
	"io"
	"net"
	"sync"

	"listdb/pkg/common"
	"listdb/pkg/core"
	"listdb/pkg/criteria"
	"listdb/pkg/logger"
	"listdb/pkg/protocol"
	"listdb/pkg/sql"
	"listdb/pkg/storage"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// TCPServer serves a ListPersistor over the binary frame protocol, one goroutine
// per connection, requests answered in order.
type TCPServer struct {
	list      *core.ListPersistor
	threshold int
	log       *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewTCPServer compresses responses larger than threshold bytes.
func NewTCPServer(list *core.ListPersistor, threshold int) *TCPServer {
	return &TCPServer{
		list:      list,
		threshold: threshold,
		log:       logger.Component("tcp"),
		conns:     make(map[net.Conn]struct{}),
	}
}

func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts on listener until Shutdown.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()
	s.log.Infof("Listening on %s (Binary Protocol)", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.WithError(err).Warn("accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown stops accepting, closes open connections and waits for their handlers.
func (s *TCPServer) Shutdown() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// ServeConn answers requests on conn until it is closed.
func (s *TCPServer) ServeConn(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("decode error")
			}
			return
		}
		if err := s.handle(context.Background(), conn, req); err != nil {
			log.WithError(err).Debug("write error")
			return
		}
	}
}

func (s *TCPServer) handle(ctx context.Context, w io.Writer, req *protocol.Packet) error {
	resp, err := s.dispatch(ctx, req)
	if err != nil {
		return protocol.Encode(w, protocol.RespErr, []byte{CodeOf(err)}, []byte(err.Error()))
	}
	if resp == nil {
		return protocol.Encode(w, protocol.RespOK, nil, nil)
	}
	return protocol.WriteMessage(w, protocol.RespVal, nil, resp, s.threshold)
}

func (s *TCPServer) dispatch(ctx context.Context, req *protocol.Packet) (*protocol.Response, error) {
	switch req.Code() {
	case protocol.OpRow:
		args, err := protocol.ParseInt64Key(req.Key, 1)
		if err != nil {
			return nil, errors.Wrap(errInvalid, err.Error())
		}
		r, err := s.list.Record(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Records: []protocol.Record{r.Map()}}, nil

	case protocol.OpPage:
		args, err := protocol.ParseInt64Key(req.Key, 2)
		if err != nil {
			return nil, errors.Wrap(errInvalid, err.Error())
		}
		rows, err := s.list.Page(ctx, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Records: wireRecords(rows)}, nil

	case protocol.OpSize:
		n, err := s.list.Size(ctx)
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Size: n}, nil

	case protocol.OpFirst, protocol.OpLast:
		fetch := s.list.FirstRecord
		if req.Code() == protocol.OpLast {
			fetch = s.list.LastRecord
		}
		r, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Records: []protocol.Record{r.Map()}}, nil

	case protocol.OpSave, protocol.OpDelete:
		var in protocol.Record
		if err := req.Unmarshal(&in); err != nil {
			return nil, errors.Wrap(errInvalid, err.Error())
		}
		r, err := common.RecordFromMap(s.list.FieldList(), in)
		if err != nil {
			return nil, err
		}
		mutate := s.list.Save
		if req.Code() == protocol.OpDelete {
			mutate = s.list.Delete
		}
		n, err := mutate(ctx, r)
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Affected: n}, nil

	case protocol.OpInvalidate:
		s.list.ClearCache()
		return nil, nil

	case protocol.OpScope:
		var where string
		if err := req.Unmarshal(&where); err != nil {
			return nil, errors.Wrap(errInvalid, err.Error())
		}
		c, err := sql.ParseWhere(where, s.list.FieldList())
		if err != nil {
			return nil, err
		}
		s.list.SetGlobalCriteria(c)
		return nil, nil

	case protocol.OpStats:
		raw, err := msgpack.Marshal(s.list.Stats())
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Stats: raw}, nil
	}
	return nil, errors.Wrapf(errInvalid, "unknown op 0x%02x", req.Code())
}

var errInvalid = errors.New("invalid request")

func wireRecords(rows []*common.Record) []protocol.Record {
	out := make([]protocol.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Map()
	}
	return out
}

// CodeOf classifies err for a RespErr frame.
func CodeOf(err error) byte {
	switch {
	case errors.Is(err, core.ErrIndexOutOfRange):
		return protocol.CodeOutOfRange
	case errors.Is(err, storage.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, core.ErrBackend):
		return protocol.CodeBackend
	case errors.Is(err, errInvalid),
		errors.Is(err, sql.ErrSyntax),
		errors.Is(err, criteria.ErrInvalidCondition),
		errors.Is(err, common.ErrParse),
		errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrFieldNotFound),
		errors.Is(err, common.ErrKindMismatch),
		errors.Is(err, storage.ErrDuplicateKey):
		return protocol.CodeInvalid
	}
	return protocol.CodeInternal
}

// Package wire implements the coordinator's request/response protocol:
// JOIN, PING, PULL and INIT requests and their responses, carried as TLV
// records (package record) over a length-delimited framed channel, a
// 4-byte big-endian length prefix followed by the encoded record.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/basho-labs/riak-mesos-metacoord/record"
)

// Code is the wire-level status of a response.
type Code int

const (
	CodeOK Code = iota
	CodeNotLeader
	CodeInvalid
	CodeInternal
)

// Hint refines a PING response: whether the caller should re-JOIN or
// PULL a fresher table.
type Hint int

const (
	HintNone Hint = iota
	HintOK
	HintRejoin
	HintStaleEpoch
)

// Cmd identifies which of the four request variants a frame carries.
type Cmd int

const (
	CmdJoin Cmd = iota
	CmdPing
	CmdPull
	CmdInit
)

// Request is the decoded form of any of the four wire requests.
type Request struct {
	Cmd   Cmd
	Node  record.Node // JOIN, PING
	Epoch int64       // PING
	Num   uint32      // INIT
}

// Response is the decoded form of any wire response.
type Response struct {
	Code       Code
	Epoch      int64
	Hint       Hint
	Table      record.PartitionsTable // PULL
	LeaderHint string                 // optional, set on CodeNotLeader
}

const maxFrameLen = 64 << 20 // 64MiB, generous ceiling against a corrupt length prefix

// WriteFrame writes a length-prefixed payload to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Request record tags.
const (
	reqTagCmd   = 1
	reqTagNode  = 2
	reqTagEpoch = 3
	reqTagNum   = 4
)

// EncodeRequest encodes req as a TLV record payload (see package record for
// the wire primitives reused here).
func EncodeRequest(req Request) []byte {
	w := record.NewWriter()
	w.Int(reqTagCmd, int64(req.Cmd))
	if req.Cmd == CmdJoin || req.Cmd == CmdPing {
		w.Message(reqTagNode, record.EncodeNode(req.Node))
	}
	if req.Cmd == CmdPing {
		w.Int(reqTagEpoch, req.Epoch)
	}
	if req.Cmd == CmdInit {
		w.Uint(reqTagNum, uint64(req.Num))
	}
	return w.Bytes()
}

// DecodeRequest parses a TLV request record.
func DecodeRequest(data []byte) (Request, error) {
	fields, err := record.ParseFields(data)
	if err != nil {
		return Request{}, err
	}
	var req Request
	for _, f := range fields {
		switch f.Tag {
		case reqTagCmd:
			req.Cmd = Cmd(f.Uint)
		case reqTagNode:
			n, err := record.DecodeNode(f.Bytes)
			if err != nil {
				return Request{}, err
			}
			req.Node = n
		case reqTagEpoch:
			req.Epoch = int64(f.Uint)
		case reqTagNum:
			req.Num = uint32(f.Uint)
		}
	}
	return req, nil
}

// Response record tags.
const (
	respTagCode       = 1
	respTagEpoch      = 2
	respTagHint       = 3
	respTagTable      = 4
	respTagLeaderHint = 5
)

// EncodeResponse encodes resp as a TLV record payload.
func EncodeResponse(resp Response) []byte {
	w := record.NewWriter()
	w.Int(respTagCode, int64(resp.Code))
	w.Int(respTagEpoch, resp.Epoch)
	w.Int(respTagHint, int64(resp.Hint))
	if len(resp.Table.Info) > 0 || resp.Table.Version != 0 {
		w.Message(respTagTable, resp.Table.Encode())
	}
	if resp.LeaderHint != "" {
		w.String(respTagLeaderHint, resp.LeaderHint)
	}
	return w.Bytes()
}

// DecodeResponse parses a TLV response record.
func DecodeResponse(data []byte) (Response, error) {
	fields, err := record.ParseFields(data)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	for _, f := range fields {
		switch f.Tag {
		case respTagCode:
			resp.Code = Code(f.Uint)
		case respTagEpoch:
			resp.Epoch = int64(f.Uint)
		case respTagHint:
			resp.Hint = Hint(f.Uint)
		case respTagTable:
			t, err := record.DecodePartitionsTable(f.Bytes)
			if err != nil {
				return Response{}, err
			}
			resp.Table = t
		case respTagLeaderHint:
			resp.LeaderHint = string(f.Bytes)
		}
	}
	return resp, nil
}

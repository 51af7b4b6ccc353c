package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ErrUnknownFrameKind is returned by Decode when the leading kind byte
// doesn't match any known FrameKind.
var ErrUnknownFrameKind = fmt.Errorf("wire: unknown frame kind")

// Encode serialises frame into its length-prefixed binary wire form: a
// 1-byte FrameKind tag followed by the frame's fields, each string/byte
// slice itself prefixed with a uint32 length.
func Encode(frame Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(frame.Kind()))

	switch f := frame.(type) {
	case ConnectFrame:
		writeUint64(&buf, f.SenderNode)
		writeString(&buf, f.ListenAddr)
		writeNodeList(&buf, f.KnownNodes)

	case ConnectAckFrame:
		writeNode(&buf, f.Self)
		writeNodeList(&buf, f.KnownNodes)

	case PingFrame:
		writeString(&buf, f.MessageID)

	case PongFrame:
		writeString(&buf, f.MessageID)

	case FindActorFrame:
		writeString(&buf, f.MessageID)
		writeString(&buf, f.ActorID)
		writeString(&buf, f.TraceID)

	case ActorAddressFrame:
		writeString(&buf, f.MessageID)
		writeUint64(&buf, f.NodeID)
		writeString(&buf, f.ActorID)

	case RegisterActorFrame:
		writeUint64(&buf, f.NodeID)
		writeString(&buf, f.ActorID)

	case MessageRequestFrame:
		writeString(&buf, f.MessageID)
		writeString(&buf, f.ActorID)
		writeString(&buf, f.MessageType)
		writeBytes(&buf, f.Payload)

	case MessageResponseFrame:
		writeString(&buf, f.MessageID)
		writeBytes(&buf, f.Payload)
		writeString(&buf, f.Err)

	case RemoteEntityRequestFrame:
		writeString(&buf, f.RequestID)
		writeString(&buf, f.ActorID)
		writeString(&buf, f.MessageType)
		writeBytes(&buf, f.Message)
		writeBytes(&buf, f.Recipe)
		writeUint64(&buf, f.OriginNode)

	case StreamPublishFrame:
		writeString(&buf, f.Topic)
		writeBytes(&buf, f.Payload)

	case AllocateShardFrame:
		writeString(&buf, f.RequestID)
		writeUint64(&buf, uint64(f.ShardID))

	case ShardAllocatedFrame:
		writeString(&buf, f.RequestID)
		writeUint64(&buf, uint64(f.ShardID))
		writeUint64(&buf, f.NodeID)

	default:
		return nil, fmt.Errorf("wire: unencodable frame type %T", frame)
	}

	return buf.Bytes(), nil
}

// Decode parses the length-prefixed binary form produced by Encode back
// into a concrete Frame.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < 1 {
		return nil, io.ErrUnexpectedEOF
	}

	r := bytes.NewReader(raw[1:])
	kind := FrameKind(raw[0])

	switch kind {
	case KindConnect:
		senderNode, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		listenAddr, err := readString(r)
		if err != nil {
			return nil, err
		}
		known, err := readNodeList(r)
		if err != nil {
			return nil, err
		}

		return ConnectFrame{
			SenderNode: senderNode,
			ListenAddr: listenAddr,
			KnownNodes: known,
		}, nil

	case KindConnectAck:
		self, err := readNode(r)
		if err != nil {
			return nil, err
		}
		known, err := readNodeList(r)
		if err != nil {
			return nil, err
		}

		return ConnectAckFrame{Self: self, KnownNodes: known}, nil

	case KindPing:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}

		return PingFrame{MessageID: id}, nil

	case KindPong:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}

		return PongFrame{MessageID: id}, nil

	case KindFindActor:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		actorID, err := readString(r)
		if err != nil {
			return nil, err
		}
		traceID, err := readString(r)
		if err != nil {
			return nil, err
		}

		return FindActorFrame{
			MessageID: id, ActorID: actorID, TraceID: traceID,
		}, nil

	case KindActorAddress:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		nodeID, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		actorID, err := readString(r)
		if err != nil {
			return nil, err
		}

		return ActorAddressFrame{
			MessageID: id, NodeID: nodeID, ActorID: actorID,
		}, nil

	case KindRegisterActor:
		nodeID, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		actorID, err := readString(r)
		if err != nil {
			return nil, err
		}

		return RegisterActorFrame{NodeID: nodeID, ActorID: actorID}, nil

	case KindMessageRequest:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		actorID, err := readString(r)
		if err != nil {
			return nil, err
		}
		msgType, err := readString(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}

		return MessageRequestFrame{
			MessageID: id, ActorID: actorID, MessageType: msgType,
			Payload: payload,
		}, nil

	case KindMessageResponse:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		errStr, err := readString(r)
		if err != nil {
			return nil, err
		}

		return MessageResponseFrame{
			MessageID: id, Payload: payload, Err: errStr,
		}, nil

	case KindRemoteEntityRequest:
		reqID, err := readString(r)
		if err != nil {
			return nil, err
		}
		actorID, err := readString(r)
		if err != nil {
			return nil, err
		}
		msgType, err := readString(r)
		if err != nil {
			return nil, err
		}
		message, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		recipe, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		origin, err := readUint64(r)
		if err != nil {
			return nil, err
		}

		return RemoteEntityRequestFrame{
			RequestID: reqID, ActorID: actorID, MessageType: msgType,
			Message: message, Recipe: recipe, OriginNode: origin,
		}, nil

	case KindStreamPublish:
		topic, err := readString(r)
		if err != nil {
			return nil, err
		}
		payload, err := readBytes(r)
		if err != nil {
			return nil, err
		}

		return StreamPublishFrame{Topic: topic, Payload: payload}, nil

	case KindAllocateShard:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		shardID, err := readUint64(r)
		if err != nil {
			return nil, err
		}

		return AllocateShardFrame{RequestID: id, ShardID: uint32(shardID)}, nil

	case KindShardAllocated:
		id, err := readString(r)
		if err != nil {
			return nil, err
		}
		shardID, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		nodeID, err := readUint64(r)
		if err != nil {
			return nil, err
		}

		return ShardAllocatedFrame{
			RequestID: id, ShardID: uint32(shardID), NodeID: nodeID,
		}, nil

	default:
		return nil, ErrUnknownFrameKind
	}
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(tmp[:]), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
	buf.Write(tmp[:])
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(tmp[:])
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func writeNode(buf *bytes.Buffer, n NodeDescriptor) {
	writeUint64(buf, n.NodeID)
	writeString(buf, n.Addr)
	writeString(buf, n.Tag)
	writeUint64(buf, uint64(n.StartedUnix))
}

func readNode(r *bytes.Reader) (NodeDescriptor, error) {
	nodeID, err := readUint64(r)
	if err != nil {
		return NodeDescriptor{}, err
	}
	addr, err := readString(r)
	if err != nil {
		return NodeDescriptor{}, err
	}
	tag, err := readString(r)
	if err != nil {
		return NodeDescriptor{}, err
	}
	started, err := readUint64(r)
	if err != nil {
		return NodeDescriptor{}, err
	}

	return NodeDescriptor{
		NodeID: nodeID, Addr: addr, Tag: tag,
		StartedUnix: int64(started),
	}, nil
}

func writeNodeList(buf *bytes.Buffer, nodes []NodeDescriptor) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(nodes)))
	buf.Write(tmp[:])

	for _, n := range nodes {
		writeNode(buf, n)
	}
}

func readNodeList(r *bytes.Reader) ([]NodeDescriptor, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(tmp[:])
	if n == 0 {
		return nil, nil
	}
	out := make([]NodeDescriptor, 0, n)

	for i := uint32(0); i < n; i++ {
		node, err := readNode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}

	return out, nil
}

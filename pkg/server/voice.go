package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bg9m9r/whispr-sub001/pkg/protocol"
)

// audioRateLimit bounds one sender to 100 packets per rolling window. The
// window starts at the first packet seen after the previous one expired,
// not on a wall-clock boundary.
const audioRateLimit = 100

type window struct {
	start time.Time
	count int
}

// rateLimiters hands out a per-clientID fixed window, created lazily on the
// first packet from a registered clientID and dropped by remove when that
// client's control connection closes.
type rateLimiters struct {
	mu      sync.Mutex
	windows map[uint32]*window
}

func newRateLimiters() *rateLimiters {
	return &rateLimiters{windows: make(map[uint32]*window)}
}

func (r *rateLimiters) allow(clientID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, ok := r.windows[clientID]
	if !ok || now.Sub(w.start) >= time.Second {
		w = &window{start: now}
		r.windows[clientID] = w
	}
	if w.count >= audioRateLimit {
		return false
	}
	w.count++
	return true
}

func (r *rateLimiters) remove(clientID uint32) {
	r.mu.Lock()
	delete(r.windows, clientID)
	r.mu.Unlock()
}

// StartVoice starts the UDP audio relay.
func (s *Server) StartVoice() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.AudioAddr)
	if err != nil {
		return fmt.Errorf("server: resolve audio addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen audio: %w", err)
	}
	s.audioConn = conn

	if err := conn.SetReadBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP read buffer", "err", err)
	}
	if err := conn.SetWriteBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP write buffer", "err", err)
	}

	s.rateLimit = newRateLimiters()
	slog.Info("audio plane listening", "addr", s.cfg.AudioAddr)

	go s.audioLoop()
	return nil
}

// audioLoop reads UDP audio datagrams and forwards the raw ciphertext to
// every other member of the sender's channel. This is a selective
// forwarding relay: it never decrypts or mixes audio, only routes it.
func (s *Server) audioLoop() {
	buf := make([]byte, protocol.MaxAudioPacketSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, remoteAddr, err := s.audioConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("audio read error", "err", err)
				continue
			}
		}

		pkt, err := protocol.ParseAudioPacket(buf[:n])
		if err != nil {
			s.metrics.VoicePacketsDropped.WithLabelValues("malformed").Inc()
			continue
		}

		s.metrics.VoicePacketsIn.Inc()
		s.metrics.VoiceBytesIn.Add(float64(n))

		userID, ok := s.endpoint.ResolveUser(pkt.ClientID)
		if !ok {
			s.metrics.VoicePacketsDropped.WithLabelValues("unregistered").Inc()
			continue
		}

		if !s.rateLimit.allow(pkt.ClientID) {
			s.metrics.VoiceRateLimited.Inc()
			s.metrics.VoicePacketsDropped.WithLabelValues("rate_limited").Inc()
			continue
		}

		// NAT/roaming tolerant by design — see EndpointRegistry's doc comment.
		s.endpoint.RefreshEndpoint(pkt.ClientID, remoteAddr)

		channelID, ok := s.channels.GetUserChannel(userID)
		if !ok {
			s.metrics.VoicePacketsDropped.WithLabelValues("no_channel").Inc()
			continue
		}

		rawPacket := buf[:n]
		for _, memberID := range s.channels.OtherMembers(channelID, userID) {
			memberClientID, ok := s.endpoint.ResolveClientID(memberID)
			if !ok {
				continue
			}
			addr, ok := s.endpoint.Endpoint(memberClientID)
			if !ok {
				continue
			}
			if _, err := s.audioConn.WriteToUDP(rawPacket, addr); err != nil {
				slog.Debug("audio forward error", "target", memberID, "err", err)
				continue
			}
			s.metrics.VoicePacketsOut.Inc()
			s.metrics.VoiceBytesOut.Add(float64(n))
		}
	}
}

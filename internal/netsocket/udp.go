package netsocket

import (
	"net"
	"net/netip"
)

// UDPConnectedSocket is a ConnectedSocket backed by a real OS UDP socket
// already connected to one remote peer via net.DialUDP.
type UDPConnectedSocket struct {
	conn *net.UDPConn
}

// DialUDP opens a UDP socket connected to addr.
func DialUDP(addr *net.UDPAddr) (*UDPConnectedSocket, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &UDPConnectedSocket{conn: conn}, nil
}

func (s *UDPConnectedSocket) Recv(buf []byte) (int, error) {
	return s.conn.Read(buf)
}

// Send transmits buf. Per the connection layer's error policy, some
// operating systems surface ICMP-derived failures from earlier, unrelated
// datagrams as a send error here; the FSM layer ignores whatever this
// returns and relies on the timeout mechanism as the sole fault detector.
func (s *UDPConnectedSocket) Send(buf []byte) error {
	_, err := s.conn.Write(buf)
	return err
}

func (s *UDPConnectedSocket) Close() error {
	return s.conn.Close()
}

// UDPBoundSocket is a BoundSocket[netip.AddrPort] backed by a real OS UDP
// socket bound to a local address, serving an arbitrary number of peers.
type UDPBoundSocket struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket bound to addr ("" for any interface).
func ListenUDP(addr *net.UDPAddr) (*UDPBoundSocket, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPBoundSocket{conn: conn}, nil
}

func (s *UDPBoundSocket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addr, nil
}

func (s *UDPBoundSocket) SendTo(buf []byte, addr netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(buf, addr)
	return err
}

func (s *UDPBoundSocket) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the socket's local address, for logging.
func (s *UDPBoundSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

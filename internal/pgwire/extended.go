package pgwire

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// fail reports err for an extended-protocol message and discards further
// messages until Sync.
func (s *session) fail(query string, err error) {
	s.reportError(query, err)
	s.failed = true
	s.setState(StateAwaitingQuery)
}

func (s *session) failProtocol(err error) {
	s.send(protocolError(err.Error()))
	s.failed = true
}

func (s *session) parse(msg *pgproto3.Parse) {
	// The backend reuses message buffers between reads.
	oids := append([]uint32(nil), msg.ParameterOIDs...)
	s.statements[msg.Name] = &statement{query: strings.TrimSpace(msg.Query), oids: oids}
	s.send(&pgproto3.ParseComplete{})
}

func (s *session) bind(msg *pgproto3.Bind) {
	stmt, ok := s.statements[msg.PreparedStatement]
	if !ok {
		s.failProtocol(fmt.Errorf("prepared statement %q does not exist", msg.PreparedStatement))
		return
	}
	params, err := bindParams(s.types, msg, stmt.oids)
	if err != nil {
		s.failProtocol(err)
		return
	}
	// Result format codes are ignored; every column is sent as text.
	query, err := substitute(stmt.query, params)
	if err != nil {
		s.failProtocol(err)
		return
	}
	s.portals[msg.DestinationPortal] = &portal{query: query}
	s.send(&pgproto3.BindComplete{})
}

// describe answers a statement with its parameter types and no row
// description, since the result shape is only known after binding. A
// portal is answered by running it; Execute then streams the rows.
func (s *session) describe(msg *pgproto3.Describe) {
	switch msg.ObjectType {
	case 'S':
		stmt, ok := s.statements[msg.Name]
		if !ok {
			s.failProtocol(fmt.Errorf("prepared statement %q does not exist", msg.Name))
			return
		}
		n := max(len(stmt.oids), placeholders(stmt.query))
		oids := make([]uint32, n)
		for i := range oids {
			oids[i] = pgtype.TextOID
			if i < len(stmt.oids) && stmt.oids[i] != 0 {
				oids[i] = stmt.oids[i]
			}
		}
		s.send(&pgproto3.ParameterDescription{ParameterOIDs: oids})
		s.send(&pgproto3.NoData{})
	case 'P':
		p, ok := s.portals[msg.Name]
		if !ok {
			s.failProtocol(fmt.Errorf("portal %q does not exist", msg.Name))
			return
		}
		if !s.materialize(p) {
			return
		}
		p.described = true
		if p.result.table == nil {
			s.send(&pgproto3.NoData{})
			return
		}
		s.send(describe(p.result.table))
	default:
		s.failProtocol(fmt.Errorf("unsupported describe target %q", msg.ObjectType))
	}
}

// materialize runs the portal's query once and keeps the outcome.
func (s *session) materialize(p *portal) bool {
	if p.result != nil {
		return true
	}
	if isEmptyStatement(p.query) {
		p.result = &outcome{}
		return true
	}
	out, err := s.answer(p.query)
	if err != nil {
		s.fail(p.query, err)
		return false
	}
	p.result = out
	return true
}

// execute streams a portal's rows. MaxRows is ignored: portals are never
// suspended.
func (s *session) execute(msg *pgproto3.Execute) {
	p, ok := s.portals[msg.Portal]
	if !ok {
		s.failProtocol(fmt.Errorf("portal %q does not exist", msg.Portal))
		return
	}
	if isEmptyStatement(p.query) {
		s.send(&pgproto3.EmptyQueryResponse{})
		return
	}
	if !s.materialize(p) {
		return
	}

	s.setState(StateRendering)
	out := p.result
	p.result = nil // a re-executed portal runs again
	if out.table != nil {
		desc := describe(out.table)
		if !p.described {
			s.send(desc)
		}
		s.sendRows(out.table, desc)
	}
	s.send(&pgproto3.CommandComplete{CommandTag: []byte(out.tag)})
	s.setState(StateAwaitingQuery)
}

func (s *session) closeTarget(msg *pgproto3.Close) {
	switch msg.ObjectType {
	case 'S':
		delete(s.statements, msg.Name)
	case 'P':
		delete(s.portals, msg.Name)
	default:
		s.failProtocol(fmt.Errorf("unsupported close target %q", msg.ObjectType))
		return
	}
	s.send(&pgproto3.CloseComplete{})
}

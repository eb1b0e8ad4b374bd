package session

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/qmuntal/stateless"

	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/tree"
)

// Reply flow states
type flowState string

const (
	stateIdle          flowState = "Idle"
	stateRecordingUser flowState = "RecordingUser"
	stateGenerating    flowState = "Generating"
	stateDone          flowState = "Done"   // Terminal: reply appended
	stateFailed        flowState = "Failed" // Terminal: see replyFlow.err
)

// Reply flow triggers
type flowTrigger string

const (
	triggerSend         flowTrigger = "Send"
	triggerRegenerate   flowTrigger = "Regenerate"
	triggerUserRecorded flowTrigger = "UserRecorded"
	triggerReplied      flowTrigger = "Replied"
	triggerFailed       flowTrigger = "Failed"
)

type replyFlow struct {
	userID    string
	assistant *tree.Node
	err       error
}

// Send appends a user message under the current node, persists it, then asks
// the generator for a reply and appends it as the user node's child.
//
// On ErrGeneration the user node stays in the tree as the current node and
// nothing else is added; Regenerate retries without a second user node.
func (s *Session) Send(ctx context.Context, content string) (*tree.Node, error) {
	return s.runReply(ctx, triggerSend, content)
}

// Regenerate produces a new reply for the current user message. When the
// current node is an assistant reply, a sibling reply is generated for its
// user message instead.
func (s *Session) Regenerate(ctx context.Context) (*tree.Node, error) {
	cur := s.tree.Current()
	switch {
	case cur.Role == tree.RoleUser:
		return s.runReply(ctx, triggerRegenerate, cur.ID)
	case cur.Role == tree.RoleAssistant:
		parent, ok := s.tree.Node(cur.ParentID)
		if ok && parent.Role == tree.RoleUser {
			return s.runReply(ctx, triggerRegenerate, parent.ID)
		}
	}
	return nil, errors.Wrapf(tree.ErrInvalidOperation, "no user message to answer at %q", cur.ID)
}

func (s *Session) runReply(ctx context.Context, trigger flowTrigger, arg string) (*tree.Node, error) {
	if s.gen == nil {
		return nil, errors.Wrap(ErrGeneration, "no generator configured")
	}

	flow := &replyFlow{}
	fsm := stateless.NewStateMachine(stateIdle)

	fsm.Configure(stateIdle).
		Permit(triggerSend, stateRecordingUser).
		Permit(triggerRegenerate, stateGenerating)

	// State: RecordingUser
	// The user node must be stored before generation starts.
	fsm.Configure(stateRecordingUser).
		OnEntryFrom(triggerSend, func(ctx context.Context, args ...any) error {
			content := args[0].(string)
			n := s.tree.Append(content, tree.RoleUser)
			flow.userID = n.ID
			s.maybeTitle(ctx, content)
			logger.L.Debug("reply flow: user message appended", "conversation", s.id, "node", n.ID)

			if err := s.save(ctx); err != nil {
				flow.err = err
				return fsm.FireCtx(ctx, triggerFailed)
			}
			return fsm.FireCtx(ctx, triggerUserRecorded)
		}).
		Permit(triggerUserRecorded, stateGenerating).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateGenerating).
		OnEntryFrom(triggerRegenerate, func(ctx context.Context, args ...any) error {
			flow.userID = args[0].(string)
			return s.tree.Navigate(flow.userID)
		}).
		OnEntry(func(ctx context.Context, args ...any) error {
			msgs, err := s.tree.MessagesForGeneration()
			if err != nil {
				flow.err = err
				return fsm.FireCtx(ctx, triggerFailed)
			}

			logger.L.Debug("reply flow: generating", "conversation", s.id, "user_node", flow.userID, "messages", len(msgs))
			content, err := s.gen.Generate(ctx, msgs)
			if err != nil {
				logger.L.Warn("reply generation failed", "conversation", s.id, "user_node", flow.userID, "error", err)
				flow.err = fmt.Errorf("%w: %w", ErrGeneration, err)
				return fsm.FireCtx(ctx, triggerFailed)
			}

			// the reply hangs under the user node it answers, whatever the
			// current pointer says now
			if err := s.tree.Navigate(flow.userID); err != nil {
				flow.err = err
				return fsm.FireCtx(ctx, triggerFailed)
			}
			flow.assistant = s.tree.Append(content, tree.RoleAssistant, tree.WithMetadata(s.replyMetadata()))
			if err := s.save(ctx); err != nil {
				flow.err = err
				return fsm.FireCtx(ctx, triggerFailed)
			}
			return fsm.FireCtx(ctx, triggerReplied)
		}).
		Permit(triggerReplied, stateDone).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateDone)
	fsm.Configure(stateFailed)

	if err := fsm.FireCtx(ctx, trigger, arg); err != nil {
		if flow.err != nil {
			return flow.assistant, flow.err
		}
		return nil, err
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("reply flow internal error: %w", err)
	}
	switch state {
	case stateDone:
		logger.L.Info("reply appended", "conversation", s.id, "user_node", flow.userID, "node", flow.assistant.ID)
		return flow.assistant, nil
	case stateFailed:
		return flow.assistant, flow.err
	default:
		return nil, fmt.Errorf("reply flow ended in unexpected state %v", state)
	}
}

func (s *Session) replyMetadata() tree.Metadata {
	if m, ok := s.gen.(interface{ Model() string }); ok && m.Model() != "" {
		return tree.Metadata{"model": m.Model()}
	}
	return nil
}

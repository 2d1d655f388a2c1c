package workflow

import (
	"fmt"
	"strings"

	"github.com/BaSui01/nodeflow/types"
	"github.com/google/uuid"
)

// AddDynamicHandle appends h to group. An empty ID is filled with a new uuid.
// Names must be non-empty and unique within the group.
func (n *Node) AddDynamicHandle(group string, h HandleDescriptor) (HandleDescriptor, error) {
	h.Name = strings.TrimSpace(h.Name)
	if err := n.checkHandleName(group, "", h.Name); err != nil {
		return HandleDescriptor{}, err
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if _, exists := n.DynamicHandles.Find(group, h.ID); exists {
		return HandleDescriptor{}, types.NewError(types.ErrHandleConflict,
			fmt.Sprintf("handle id %q already exists in group %q", h.ID, group))
	}
	if n.DynamicHandles == nil {
		n.DynamicHandles = make(DynamicHandles)
	}
	n.DynamicHandles[group] = append(n.DynamicHandles[group], h)
	return h, nil
}

// UpdateDynamicHandle renames or re-describes an existing handle.
func (n *Node) UpdateDynamicHandle(group, id, name, description string) error {
	name = strings.TrimSpace(name)
	idx := n.handleIndex(group, id)
	if idx < 0 {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("handle %q not found in group %q", id, group))
	}
	if err := n.checkHandleName(group, id, name); err != nil {
		return err
	}
	n.DynamicHandles[group][idx].Name = name
	n.DynamicHandles[group][idx].Description = description
	return nil
}

// RemoveDynamicHandle deletes a handle from group.
func (n *Node) RemoveDynamicHandle(group, id string) error {
	idx := n.handleIndex(group, id)
	if idx < 0 {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("handle %q not found in group %q", id, group))
	}
	handles := n.DynamicHandles[group]
	n.DynamicHandles[group] = append(handles[:idx:idx], handles[idx+1:]...)
	return nil
}

func (n *Node) handleIndex(group, id string) int {
	for i, h := range n.DynamicHandles[group] {
		if h.ID == id {
			return i
		}
	}
	return -1
}

func (n *Node) checkHandleName(group, selfID, name string) error {
	if name == "" {
		return types.NewError(types.ErrInvalidRequest, "handle name cannot be empty")
	}
	for _, h := range n.DynamicHandles[group] {
		if h.Name == name && h.ID != selfID {
			return types.NewError(types.ErrHandleConflict,
				fmt.Sprintf("handle name %q already exists in group %q", name, group))
		}
	}
	return nil
}

// DetachHandle drops every edge touching nodeID's handle, on either side.
func DetachHandle(edges []Edge, nodeID, handleID string) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if (e.Source == nodeID && e.SourceHandle == handleID) ||
			(e.Target == nodeID && e.TargetHandle == handleID) {
			continue
		}
		out = append(out, e)
	}
	return out
}

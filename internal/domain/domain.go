package domain

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

const (
	NotificationInfo    = "info"
	NotificationWarning = "warning"
	NotificationSuccess = "success"
)

type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Badges    []string `json:"badges"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type ProjectStatus struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Order int    `json:"order"`
}

type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id"`
	Statuses    []ProjectStatus `json:"statuses"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

// HasStatus reports whether name is one of the project's status columns.
func (p Project) HasStatus(name string) bool {
	for _, s := range p.Statuses {
		if s.Name == name {
			return true
		}
	}
	return false
}

// FinalStatus is the last column of the board, treated as "completed".
func (p Project) FinalStatus() string {
	if len(p.Statuses) == 0 {
		return ""
	}
	last := p.Statuses[0]
	for _, s := range p.Statuses[1:] {
		if s.Order >= last.Order {
			last = s
		}
	}
	return last.Name
}

type Member struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"owner,admin,member"`
	AddedAt   string `json:"added_at" format:"date-time"`
}

type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	ReporterID  string   `json:"reporter_id"`
	Priority    string   `json:"priority" enum:"Low,Medium,High"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	Labels      []string `json:"labels"`
	OverdueAt   *string  `json:"overdue_at,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Assignee returns the assignee id or "" when the task is unassigned.
func (t Task) Assignee() string {
	if t.AssigneeID == nil {
		return ""
	}
	return *t.AssigneeID
}

type HistoryEntry struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Field     string `json:"field"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	ChangedBy string `json:"changed_by"`
	ChangedAt string `json:"changed_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID          string  `json:"id"`
	RecipientID string  `json:"recipient_id"`
	Type        string  `json:"type" enum:"info,warning,success"`
	Title       string  `json:"title"`
	Message     string  `json:"message"`
	TaskID      *string `json:"task_id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
	Read        bool    `json:"read"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

package authclient

import (
	"context"
	"net/http"
	"time"
)

// UserProfile is the authenticated identity returned by /users/me/.
type UserProfile struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id"`
	AvatarURL    string `json:"avatar_url"`
}

// RoleEntry is one role from the server's role catalogue.
type RoleEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Department is one department from the server's catalogue.
type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is an inter-department message header.
type Message struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	SenderID     string    `json:"sender_id"`
	DepartmentID string    `json:"department_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Task is a task summary consumed by the dashboard.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	AssigneeID string     `json:"assignee_id"`
	DueAt      *time.Time `json:"due_at"`
}

// FetchProfile returns the profile keyed by the current bearer token.
func (client *Client) FetchProfile(ctx context.Context) (UserProfile, error) {
	var profile UserProfile
	if err := client.Do(ctx, http.MethodGet, "/users/me/", nil, &profile); err != nil {
		return UserProfile{}, err
	}
	return profile, nil
}

// FetchRoles returns the role catalogue.
func (client *Client) FetchRoles(ctx context.Context) ([]RoleEntry, error) {
	var roles []RoleEntry
	if err := client.Do(ctx, http.MethodGet, "/roles/", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// FetchDepartments returns the department catalogue.
func (client *Client) FetchDepartments(ctx context.Context) ([]Department, error) {
	var departments []Department
	if err := client.Do(ctx, http.MethodGet, "/departments/", nil, &departments); err != nil {
		return nil, err
	}
	return departments, nil
}

// FetchMessages returns the caller's message headers.
func (client *Client) FetchMessages(ctx context.Context) ([]Message, error) {
	var messages []Message
	if err := client.Do(ctx, http.MethodGet, "/messages/", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// FetchTasks returns the caller's visible tasks.
func (client *Client) FetchTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if err := client.Do(ctx, http.MethodGet, "/tasks/", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

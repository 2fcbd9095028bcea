package models

type ArticleCreateRequest struct {
	Title      string       `json:"title" validate:"required,min=1,max=500"`
	Authors    []string     `json:"authors" validate:"omitempty,dive,required,max=200,single_line"`
	Abstract   string       `json:"abstract" validate:"max=5000"`
	Keywords   []string     `json:"keywords" validate:"omitempty,dive,required,max=100,single_line"`
	Body       string       `json:"body" validate:"required"`
	References []string     `json:"references" validate:"omitempty,dive,required,max=1000,single_line"`
	Level      ArticleLevel `json:"level" validate:"required,article_level"`
	Groups     []GroupID    `json:"groups" validate:"required,min=1,dive,gt=0"`
}

type ArticleUpdateRequest = ArticleCreateRequest

// ArticleFilters narrows a listing of visible articles
type ArticleFilters struct {
	Query  string        `json:"query"`
	Level  *ArticleLevel `json:"level" validate:"omitempty,article_level"`
	Groups []GroupID     `json:"groups"`
}

type GroupMemberRequest struct {
	UserID  string `json:"user_id" validate:"required,max=255"`
	IsAdmin bool   `json:"is_admin"`
}

type GroupCreateRequest struct {
	Name      string               `json:"name" validate:"required,group_name"`
	Protected bool                 `json:"protected"`
	Members   []GroupMemberRequest `json:"members" validate:"omitempty,dive"`
	Articles  []ArticleID          `json:"articles"`
}

type GroupUpdateRequest struct {
	Name      *string `json:"name" validate:"omitempty,group_name"`
	Protected *bool   `json:"protected"`
}

type HelpRequestCreateRequest struct {
	Message       string   `json:"message" validate:"required,min=1,max=4000"`
	SearchHistory []string `json:"search_history" validate:"omitempty,max=100"`
}

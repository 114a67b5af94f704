package request

// CreateEnvironment holds the request body for POST /environments.
type CreateEnvironment struct {
	Name string `json:"name" validate:"required,min=1,max=63"`
}

// MakeEnvironmentPublic holds the request body for POST /environments/:id/public.
type MakeEnvironmentPublic struct {
	Domain string `json:"domain" validate:"required"`
}

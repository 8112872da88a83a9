package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
)

func (s *Server) registerFavoriteRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listFavorites",
		Method:      http.MethodGet,
		Path:        "/api/v1/favorites/{itemType}",
		Summary:     "List favorites",
		Description: "Returns the reader's favourites of one type, most recent first",
		Tags:        []string{"Favorites"},
	}, s.handleListFavorites)

	huma.Register(s.api, huma.Operation{
		OperationID: "getFavorite",
		Method:      http.MethodGet,
		Path:        "/api/v1/favorites/{itemType}/{itemID}",
		Summary:     "Get favorite state",
		Description: "Reports whether the reader marked the item. Transient lookup failures read as not marked.",
		Tags:        []string{"Favorites"},
	}, s.handleGetFavorite)

	huma.Register(s.api, huma.Operation{
		OperationID: "addFavorite",
		Method:      http.MethodPut,
		Path:        "/api/v1/favorites/{itemType}/{itemID}",
		Summary:     "Mark favorite",
		Tags:        []string{"Favorites"},
	}, s.handleAddFavorite)

	huma.Register(s.api, huma.Operation{
		OperationID: "removeFavorite",
		Method:      http.MethodDelete,
		Path:        "/api/v1/favorites/{itemType}/{itemID}",
		Summary:     "Unmark favorite",
		Tags:        []string{"Favorites"},
	}, s.handleRemoveFavorite)
}

// === DTOs ===

// FavoriteInput identifies a reader's favourite.
type FavoriteInput struct {
	ReaderID string `header:"X-Reader-ID" required:"true" doc:"Opaque reader id"`
	ItemType string `path:"itemType" enum:"book,icon,concept" doc:"Item type"`
	ItemID   string `path:"itemID" doc:"Item id"`
}

// ListFavoritesInput contains parameters for listing favourites.
type ListFavoritesInput struct {
	ReaderID string `header:"X-Reader-ID" required:"true" doc:"Opaque reader id"`
	ItemType string `path:"itemType" enum:"book,icon,concept" doc:"Item type"`
}

// FavoriteResponse reports an item's favourite state.
type FavoriteResponse struct {
	ItemType string `json:"item_type" doc:"Item type"`
	ItemID   string `json:"item_id" doc:"Item id"`
	Favorite bool   `json:"favorite" doc:"Whether the reader marked the item"`
}

// FavoriteOutput wraps the favourite state for Huma.
type FavoriteOutput struct {
	Body FavoriteResponse
}

// FavoritesResponse contains a list of favourites.
type FavoritesResponse struct {
	Favorites []*domain.Favorite `json:"favorites" doc:"Favourites, most recent first"`
}

// FavoritesOutput wraps the favourites list for Huma.
type FavoritesOutput struct {
	Body FavoritesResponse
}

// === Handlers ===

func (s *Server) handleListFavorites(ctx context.Context, input *ListFavoritesInput) (*FavoritesOutput, error) {
	favs, err := s.services.Favorites.List(ctx, input.ReaderID, input.ItemType)
	if err != nil {
		return nil, err
	}
	return &FavoritesOutput{Body: FavoritesResponse{Favorites: favs}}, nil
}

func (s *Server) handleGetFavorite(ctx context.Context, input *FavoriteInput) (*FavoriteOutput, error) {
	fav, err := s.services.Favorites.IsFavorite(ctx, input.ReaderID, input.ItemType, input.ItemID)
	if err != nil {
		return nil, err
	}
	return favoriteOutput(input, fav), nil
}

func (s *Server) handleAddFavorite(ctx context.Context, input *FavoriteInput) (*FavoriteOutput, error) {
	return s.setFavorite(ctx, input, true)
}

func (s *Server) handleRemoveFavorite(ctx context.Context, input *FavoriteInput) (*FavoriteOutput, error) {
	return s.setFavorite(ctx, input, false)
}

func (s *Server) setFavorite(ctx context.Context, input *FavoriteInput, favorite bool) (*FavoriteOutput, error) {
	fav, err := s.services.Favorites.Set(ctx, input.ReaderID, input.ItemType, input.ItemID, favorite)
	if err != nil {
		return nil, err
	}
	return favoriteOutput(input, fav), nil
}

func favoriteOutput(input *FavoriteInput, favorite bool) *FavoriteOutput {
	return &FavoriteOutput{Body: FavoriteResponse{
		ItemType: input.ItemType,
		ItemID:   input.ItemID,
		Favorite: favorite,
	}}
}

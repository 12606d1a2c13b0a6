package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/auth"
	"github.com/shelfspace-app/shelfspace-back/internal/catalog"
	"github.com/shelfspace-app/shelfspace-back/internal/config"
	"github.com/shelfspace-app/shelfspace-back/internal/db"
	"github.com/shelfspace-app/shelfspace-back/internal/service"
)

const stateCookie = "auth_state"

type (
	SearchReq struct {
		Query string `json:"query" validate:"required"`
	}

	ShelfReq struct {
		Title string `json:"title" validate:"required"`
	}

	AddBookReq struct {
		ISBN string `json:"isbn" validate:"required"`
	}

	SignupReq struct {
		Username string `json:"username" validate:"required,max=20"`
	}

	ReviewReq struct {
		Rating int    `json:"rating" validate:"required,min=1,max=5"`
		Body   string `json:"body" validate:"max=200"`
	}

	TokenResp struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}

	UserResp struct {
		ID       uint64 `json:"id"`
		Username string `json:"username"`
		Picture  string `json:"picture,omitempty"`
	}

	BookResp struct {
		ID           uint64 `json:"id"`
		ISBN         string `json:"isbn"`
		Title        string `json:"title"`
		Author       string `json:"author"`
		CoverImageID string `json:"cover_image_id"`
	}

	ShelfResp struct {
		ID      uint64 `json:"id"`
		Title   string `json:"title"`
		OwnerID uint64 `json:"owner_id"`
	}

	ShelfDetailResp struct {
		ID    uint64     `json:"id"`
		Title string     `json:"title"`
		Owner UserResp   `json:"owner"`
		Books []BookResp `json:"books"`
	}

	ReviewResp struct {
		ID      uint64 `json:"id"`
		Rating  int    `json:"rating"`
		Body    string `json:"body,omitempty"`
		BookID  uint64 `json:"book_id"`
		OwnerID uint64 `json:"owner_id"`
	}

	UserDetailResp struct {
		User    UserResp     `json:"user"`
		Shelves []ShelfResp  `json:"bookshelves"`
		Reviews []ReviewResp `json:"reviews"`
	}

	SearchBooksResp struct {
		Status  string           `json:"status"`
		Query   string           `json:"query"`
		Results []catalog.Result `json:"results"`
		Shelves []ShelfResp      `json:"shelves,omitempty"`
	}

	StatusResp struct {
		Status string `json:"status"`
	}

	ErrorResp struct {
		Status  string `json:"status"`
		Error   string `json:"error"`
		Message string `json:"message,omitempty"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	HTTPServer struct {
		cfg      *config.Config
		sessions *auth.Sessions
		auth0    *auth.Auth0
		library  *service.Library
		shelving *service.Shelving
		logger   *zap.SugaredLogger
	}
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, sessions *auth.Sessions, auth0 *auth.Auth0,
	library *service.Library, shelving *service.Shelving, logger *zap.SugaredLogger) *HTTPServer {

	instance := &HTTPServer{
		cfg:      cfg,
		sessions: sessions,
		auth0:    auth0,
		library:  library,
		shelving: shelving,
		logger:   logger,
	}

	e := instance.router()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return instance
}

func (s *HTTPServer) router() *echo.Echo {
	e := echo.New()

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/", s.Home)

	authG := e.Group("/auth")
	authG.GET("/login", s.Login)
	authG.GET("/callback", s.Callback)
	authG.GET("/logout", s.Logout)
	authG.POST("/signup", s.Signup)

	searchG := e.Group("/search")
	searchG.POST("/books", s.SearchBooks)
	searchG.POST("/bookshelves", s.SearchBookshelves)

	shelfG := e.Group("/bookshelf")
	shelfG.POST("", s.ShelfCreate)
	shelfG.GET("/list", s.ShelfList)
	shelfG.GET("/:id", s.ShelfGet)
	shelfG.DELETE("/:id", s.ShelfDelete)
	shelfG.POST("/:id/book", s.ShelfAddBook)
	shelfG.DELETE("/:id/book/:book_id", s.ShelfRemoveBook)

	bookG := e.Group("/book")
	bookG.GET("/:id", s.BookGet)
	bookG.GET("/:id/reviews", s.BookReviews)
	bookG.POST("/:id/review", s.ReviewCreate)

	e.GET("/user/:id", s.UserGet)
	e.GET("/profile", s.Profile)

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Use(s.SessionMiddleware)

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	return e
}

// SessionMiddleware resolves a presented session token into the request
// context. Requests without a token stay anonymous; guarded handlers
// reject those themselves. A presented but invalid token is always 401.
func (s *HTTPServer) SessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := tokenFromRequest(c)
		if token == "" {
			return next(c)
		}

		identity, signup, err := s.sessions.Verify(token)
		if err != nil {
			return c.NoContent(http.StatusUnauthorized)
		}
		if signup {
			// Signup tokens carry an identity but no account yet; only
			// the signup handler accepts them.
			c.Set("signupIdentity", &identity)
			return next(c)
		}

		user, err := s.library.GetUserByExternalID(c.Request().Context(), identity.ExternalID)
		if err != nil {
			c.Logger().Error(errors.Wrap(err, "resolve session user"))
			return c.NoContent(http.StatusUnauthorized)
		}

		c.Set("identity", &identity)
		c.Set("user", user)
		return next(c)
	}
}

/* auth */

func (s *HTTPServer) Login(c echo.Context) error {
	state := uuid.New().String()
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
	})
	return c.Redirect(http.StatusFound, s.auth0.AuthorizeURL(state))
}

func (s *HTTPServer) Logout(c echo.Context) error {
	return c.Redirect(http.StatusFound, s.auth0.LogoutURL(s.cfg.PublicURL+"/"))
}

func (s *HTTPServer) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return respondError(c, errors.Wrap(apperr.ErrBadRequest, "missing authorization code"))
	}
	cookie, err := c.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != c.QueryParam("state") {
		return respondError(c, errors.Wrap(apperr.ErrBadRequest, "state mismatch"))
	}

	ctx := c.Request().Context()
	accessToken, err := s.auth0.Exchange(ctx, code)
	if err != nil {
		return respondError(c, err)
	}
	profile, err := s.auth0.UserInfo(ctx, accessToken)
	if err != nil {
		return respondError(c, err)
	}

	identity := auth.Identity{
		ExternalID: profile.Sub,
		Name:       profile.Name,
		Picture:    profile.Picture,
	}

	if _, err := s.library.GetUserByExternalID(ctx, identity.ExternalID); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return respondError(c, err)
		}
		token, err := s.sessions.IssueSignup(identity)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, TokenResp{Status: "signup_required", Token: token})
	}

	token, err := s.sessions.Issue(identity)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, TokenResp{Status: "ok", Token: token})
}

func (s *HTTPServer) Signup(c echo.Context) error {
	identity, ok := c.Get("signupIdentity").(*auth.Identity)
	if !ok || identity == nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	req := SignupReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if _, err := s.library.CreateUser(c.Request().Context(), identity.ExternalID, req.Username, identity.Picture); err != nil {
		return respondError(c, err)
	}

	token, err := s.sessions.Issue(*identity)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, TokenResp{Status: "ok", Token: token})
}

/* search */

func (s *HTTPServer) SearchBooks(c echo.Context) error {
	req := SearchReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	var userID *uint64
	if user := OptionalUser(c); user != nil {
		userID = &user.ID
	}

	page, err := s.shelving.SearchForShelving(c.Request().Context(), userID, req.Query)
	if err != nil {
		// Search degrades to an empty result with the error kind rather
		// than a bare failure.
		status, kind := errorKind(err)
		return c.JSON(status, SearchBooksResp{
			Status:  kind,
			Query:   req.Query,
			Results: []catalog.Result{},
		})
	}

	resp := SearchBooksResp{
		Status:  "ok",
		Query:   req.Query,
		Results: page.Results,
	}
	if page.Shelves != nil {
		resp.Shelves = shelfResps(page.Shelves)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) SearchBookshelves(c echo.Context) error {
	req := SearchReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	shelves, err := s.library.SearchBookshelves(c.Request().Context(), req.Query, service.ShelfSearchLimit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, shelfResps(shelves))
}

/* bookshelves */

func (s *HTTPServer) Home(c echo.Context) error {
	shelves, err := s.library.ListBookshelves(c.Request().Context(), 4)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, shelfResps(shelves))
}

func (s *HTTPServer) ShelfCreate(c echo.Context) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	req := ShelfReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	shelf, err := s.library.CreateBookshelf(c.Request().Context(), user.ID, req.Title)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ShelfResp{
		ID:      shelf.ID,
		Title:   shelf.Title,
		OwnerID: shelf.OwnerID,
	})
}

func (s *HTTPServer) ShelfList(c echo.Context) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	shelves, err := s.library.UserBookshelves(c.Request().Context(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, shelfResps(shelves))
}

func (s *HTTPServer) ShelfGet(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	shelf, err := s.library.GetBookshelf(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	books := make([]BookResp, len(shelf.Books))
	for i := range shelf.Books {
		books[i] = bookResp(&shelf.Books[i])
	}
	return c.JSON(http.StatusOK, ShelfDetailResp{
		ID:    shelf.ID,
		Title: shelf.Title,
		Owner: userResp(&shelf.Owner),
		Books: books,
	})
}

func (s *HTTPServer) ShelfDelete(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	if err := s.shelving.DeleteShelf(c.Request().Context(), user.ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResp{Status: "ok"})
}

func (s *HTTPServer) ShelfAddBook(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	req := AddBookReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	book, err := s.shelving.AddBookToShelf(c.Request().Context(), user.ID, id, req.ISBN)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookResp(book))
}

func (s *HTTPServer) ShelfRemoveBook(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	bookID, err := GetAndParseParam(c, "book_id")
	if err != nil {
		return err
	}
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	if err := s.shelving.RemoveBookFromShelf(c.Request().Context(), user.ID, id, bookID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, StatusResp{Status: "ok"})
}

/* books and reviews */

func (s *HTTPServer) BookGet(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	book, err := s.library.GetBook(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, bookResp(book))
}

func (s *HTTPServer) BookReviews(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	reviews, err := s.library.BookReviews(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, reviewResps(reviews))
}

func (s *HTTPServer) ReviewCreate(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	req := ReviewReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	review, err := s.library.CreateReview(c.Request().Context(), user.ID, id, req.Rating, req.Body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ReviewResp{
		ID:      review.ID,
		Rating:  review.Rating,
		Body:    review.Body,
		BookID:  review.BookID,
		OwnerID: review.OwnerID,
	})
}

/* users */

func (s *HTTPServer) UserGet(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	user, err := s.library.GetUser(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	shelves, err := s.library.UserBookshelves(ctx, user.ID)
	if err != nil {
		return respondError(c, err)
	}
	reviews, err := s.library.UserReviews(ctx, user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, UserDetailResp{
		User:    userResp(user),
		Shelves: shelfResps(shelves),
		Reviews: reviewResps(reviews),
	})
}

func (s *HTTPServer) Profile(c echo.Context) error {
	user, err := RequireUser(c)
	if err != nil {
		return err
	}

	shelves, err := s.library.UserBookshelves(c.Request().Context(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, UserDetailResp{
		User:    userResp(user),
		Shelves: shelfResps(shelves),
		Reviews: []ReviewResp{},
	})
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func RequireUser(c echo.Context) (*db.User, error) {
	user, ok := c.Get("user").(*db.User)
	if !ok || user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return user, nil
}

func OptionalUser(c echo.Context) *db.User {
	user, ok := c.Get("user").(*db.User)
	if !ok {
		return nil
	}
	return user
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func GetAndParseParam(c echo.Context, name string) (uint64, error) {
	v, e := GetParam(c, name)
	if e != nil {
		return 0, e
	}
	vv, e := strconv.ParseUint(v, 10, 64)
	if e != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return vv, nil
}

func tokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie("session"); err == nil {
		return cookie.Value
	}
	return ""
}

func respondError(c echo.Context, err error) error {
	status, kind := errorKind(err)
	return c.JSON(status, ErrorResp{
		Status:  "error",
		Error:   kind,
		Message: err.Error(),
	})
}

func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func userResp(u *db.User) UserResp {
	return UserResp{
		ID:       u.ID,
		Username: u.Username,
		Picture:  u.Picture,
	}
}

func bookResp(b *db.Book) BookResp {
	return BookResp{
		ID:           b.ID,
		ISBN:         b.ISBN,
		Title:        b.Title,
		Author:       b.Author,
		CoverImageID: b.CoverImageID,
	}
}

func shelfResps(shelves []db.Bookshelf) []ShelfResp {
	resp := make([]ShelfResp, len(shelves))
	for i := range shelves {
		resp[i] = ShelfResp{
			ID:      shelves[i].ID,
			Title:   shelves[i].Title,
			OwnerID: shelves[i].OwnerID,
		}
	}
	return resp
}

func reviewResps(reviews []db.Review) []ReviewResp {
	resp := make([]ReviewResp, len(reviews))
	for i := range reviews {
		resp[i] = ReviewResp{
			ID:      reviews[i].ID,
			Rating:  reviews[i].Rating,
			Body:    reviews[i].Body,
			BookID:  reviews[i].BookID,
			OwnerID: reviews[i].OwnerID,
		}
	}
	return resp
}

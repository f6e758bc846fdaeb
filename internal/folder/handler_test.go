package folder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) EnsureRoot(ctx context.Context, userID uint64) (*domain.Folder, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Folder), args.Error(1)
}

func (m *MockService) ListFolders(ctx context.Context, userID uint64) ([]domain.Folder, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Folder), args.Error(1)
}

func (m *MockService) CreateFolder(ctx context.Context, userID uint64, name string, parentID *string) (*domain.Folder, error) {
	args := m.Called(ctx, userID, name, parentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Folder), args.Error(1)
}

func (m *MockService) DeleteFolder(ctx context.Context, userID uint64, id string) error {
	return m.Called(ctx, userID, id).Error(0)
}

func (m *MockService) RegisterCanvas(ctx context.Context, userID uint64, folderID string, entry domain.FolderCanvas) error {
	return m.Called(ctx, userID, folderID, entry).Error(0)
}

func (m *MockService) MoveCanvas(ctx context.Context, userID uint64, canvasID, folderID string) error {
	return m.Called(ctx, userID, canvasID, folderID).Error(0)
}

func (m *MockService) RemoveCanvas(ctx context.Context, userID uint64, canvasID string) error {
	return m.Called(ctx, userID, canvasID).Error(0)
}

func (m *MockService) Sweep(ctx context.Context, userID uint64) (*SweepResult, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SweepResult), args.Error(1)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.Use(func(c *gin.Context) {
		c.Set("user_id", uint64(1))
		c.Next()
	})
	return router
}

func TestHandlerCreate_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/folders", handler.Create)

	parent := "p1"
	mockService.On("CreateFolder", mock.Anything, uint64(1), "Projects", &parent).
		Return(&domain.Folder{ID: "f1", Name: "Projects", ParentID: &parent}, nil)

	body, _ := json.Marshal(CreateRequest{Name: "Projects", ParentID: &parent})
	req := httptest.NewRequest(http.MethodPost, "/folders", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"f1"`)
	mockService.AssertExpectations(t)
}

func TestHandlerCreate_MissingName(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter()
	router.POST("/folders", NewHandler(mockService).Create)

	req := httptest.NewRequest(http.MethodPost, "/folders", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	mockService.AssertNotCalled(t, "CreateFolder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandlerDelete_Root(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter()
	router.DELETE("/folders/:id", NewHandler(mockService).Delete)

	mockService.On("DeleteFolder", mock.Anything, uint64(1), "root").
		Return(errors.BadRequest("The root folder cannot be deleted", nil))

	req := httptest.NewRequest(http.MethodDelete, "/folders/root", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"The root folder cannot be deleted"}`, w.Body.String())
}

func TestHandlerMoveCanvas(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter()
	router.PUT("/folders/:id/canvases/:canvasId", NewHandler(mockService).MoveCanvas)

	mockService.On("MoveCanvas", mock.Anything, uint64(1), "c1", "f2").Return(nil)

	req := httptest.NewRequest(http.MethodPut, "/folders/f2/canvases/c1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockService.AssertExpectations(t)
}

func TestHandlerSweep(t *testing.T) {
	mockService := new(MockService)
	router := setupRouter()
	router.POST("/folders/sweep", NewHandler(mockService).Sweep)

	mockService.On("Sweep", mock.Anything, uint64(1)).Return(&SweepResult{Filed: 2}, nil)

	req := httptest.NewRequest(http.MethodPost, "/folders/sweep", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"filed":2,"deduplicated":0,"pruned":0,"renamed":0}`, w.Body.String())
}

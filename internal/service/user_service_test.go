package service_test

import (
	"testing"

	"cdef-ta-go/internal/model"
	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/token"

	"gorm.io/gorm"
)

type fakeUserRepo struct {
	byEmail map[string]*model.User
	byID    map[uint]*model.User
	nextID  uint
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byEmail: map[string]*model.User{}, byID: map[uint]*model.User{}}
}

func (f *fakeUserRepo) Create(user *model.User) error {
	f.nextID++
	user.ID = f.nextID
	f.byEmail[user.Email] = user
	f.byID[user.ID] = user
	return nil
}

func (f *fakeUserRepo) FindByEmail(email string) (*model.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) FindByID(userID uint) (*model.User, error) {
	u, ok := f.byID[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func newUserService() (service.UserService, *fakeUserRepo) {
	repo := newFakeUserRepo()
	return service.NewUserService(repo, token.NewJWTManager("test-secret", 1, 7)), repo
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, repo := newUserService()

	user, err := svc.Register("stu@example.com", "pass123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Password == "pass123" {
		t.Fatal("stored password must be hashed")
	}
	if repo.byEmail["stu@example.com"] == nil {
		t.Fatal("user should be persisted")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newUserService()

	if _, err := svc.Register("stu@example.com", "pass123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register("stu@example.com", "other456"); err == nil {
		t.Fatal("duplicate email must be rejected")
	}
}

func TestLoginVerifiesPassword(t *testing.T) {
	svc, _ := newUserService()
	if _, err := svc.Register("stu@example.com", "pass123"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, access, refresh, err := svc.Login("stu@example.com", "pass123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Email != "stu@example.com" || access == "" || refresh == "" {
		t.Fatal("login should return user and both tokens")
	}

	_, _, _, err = svc.Login("stu@example.com", "wrong")
	if err == nil {
		t.Fatal("wrong password must be rejected")
	}
	if kind, ok := service.KindOf(err); !ok || kind != service.AuthenticationFailure {
		t.Fatalf("error kind = %v, want AuthenticationFailure", kind)
	}
}

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	svc, _ := newUserService()
	if _, err := svc.Register("stu@example.com", "pass123"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, _, _, errUnknown := svc.Login("ghost@example.com", "pass123")
	_, _, _, errWrong := svc.Login("stu@example.com", "wrong")
	if errUnknown == nil || errWrong == nil {
		t.Fatal("both logins must fail")
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatal("unknown user and wrong password must be indistinguishable")
	}
}

func TestRefreshTokenIssuesNewPair(t *testing.T) {
	svc, _ := newUserService()
	if _, err := svc.Register("stu@example.com", "pass123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _, refresh, err := svc.Login("stu@example.com", "pass123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	access2, refresh2, err := svc.RefreshToken(refresh)
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if access2 == "" || refresh2 == "" {
		t.Fatal("refresh should issue a new token pair")
	}

	if _, _, err := svc.RefreshToken("garbage"); err == nil {
		t.Fatal("garbage refresh token must be rejected")
	}
}

package rbac_test

import (
	"context"

	rbacv1 "github.com/kralicky/voicebox/pkg/apis/rbac/v1"
	"github.com/kralicky/voicebox/pkg/rbac"
	"github.com/kralicky/voicebox/pkg/tasks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ = Describe("Categories", func() {
	var authCtx context.Context
	var categories []string
	sampleItems := []categorized{
		categorized(tasks.SpeechSynthesis),
		categorized(tasks.VitsTraining),
		categorized(tasks.SpeechSynthesis),
		categorized(tasks.VoiceCloning),
	}
	JustBeforeEach(func() {
		rbacConfig := &rbacv1.Config{
			Roles: []*rbacv1.Role{
				{
					ID:      "test-role",
					Service: "voicebox.task.v1.Task",
					AllowedMethods: []*rbacv1.AllowedMethod{
						{Name: "List", Categories: categories},
					},
				},
			},
			RoleBindings: []*rbacv1.RoleBinding{
				{
					ID:     "test-role-binding",
					RoleID: "test-role",
					Users:  []string{"client-user"},
				},
			},
		}
		var err error
		authCtx, err = rbac.NewAllowedMethodsMiddleware(rbacConfig).
			Eval(newAuthContext("client-user", "/voicebox.task.v1.Task/List"))
		Expect(err).NotTo(HaveOccurred())
		Expect(rbac.AllowedMethodFromContext(authCtx)).NotTo(BeNil())
	})

	When("the allowed method names specific categories", func() {
		BeforeEach(func() {
			categories = []string{string(tasks.SpeechSynthesis), string(tasks.VoiceCloning)}
		})
		It("should allow access to those categories only", func() {
			Expect(rbac.VerifyCategory(authCtx, tasks.SpeechSynthesis)).To(Succeed())
			err := rbac.VerifyCategory(authCtx, tasks.VitsTraining)
			Expect(status.Code(err)).To(Equal(codes.PermissionDenied))
			Expect(status.Convert(err).Message()).To(Equal(`user "client-user" is not authorized for category "vits-training"`))
		})
		It("should filter items by category", func() {
			filtered, err := rbac.FilterByCategory(authCtx, sampleItems)
			Expect(err).NotTo(HaveOccurred())
			Expect(filtered).To(Equal([]categorized{
				categorized(tasks.SpeechSynthesis),
				categorized(tasks.SpeechSynthesis),
				categorized(tasks.VoiceCloning),
			}))
		})
	})
	When("the allowed method uses the wildcard", func() {
		BeforeEach(func() {
			categories = []string{rbacv1.Wildcard}
		})
		It("should allow access to every category", func() {
			for _, c := range sampleItems {
				Expect(rbac.VerifyCategory(authCtx, c.AssignedCategory())).To(Succeed())
			}
		})
		It("should return all items", func() {
			filtered, err := rbac.FilterByCategory(authCtx, sampleItems)
			Expect(err).NotTo(HaveOccurred())
			Expect(filtered).To(Equal(sampleItems))
		})
	})
	When("the allowed method has no categories", func() {
		BeforeEach(func() {
			categories = nil
		})
		Specify("VerifyCategory should return ErrCategoriesNotSupported", func() {
			Expect(rbac.VerifyCategory(authCtx, tasks.SpeechSynthesis)).To(Equal(rbac.ErrCategoriesNotSupported))
		})
		Specify("FilterByCategory should return ErrCategoriesNotSupported", func() {
			_, err := rbac.FilterByCategory(authCtx, sampleItems)
			Expect(err).To(Equal(rbac.ErrCategoriesNotSupported))
		})
	})
})

package rbacv1_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	rbacv1 "github.com/kralicky/voicebox/pkg/apis/rbac/v1"
	taskv1 "github.com/kralicky/voicebox/pkg/apis/task/v1"
)

var _ = Describe("Config Validation", func() {
	taskService := rbacv1.Service{
		Desc:           &taskv1.Task_ServiceDesc,
		CategoryScoped: []string{"Start", "Logs"},
		Categories:     []string{"speech-synthesis", "voice-cloning"},
	}

	config := func(methods ...*rbacv1.AllowedMethod) *rbacv1.Config {
		return &rbacv1.Config{
			Roles: []*rbacv1.Role{
				{ID: "operator", Service: taskv1.ServiceName, AllowedMethods: methods},
			},
			RoleBindings: []*rbacv1.RoleBinding{
				{ID: "operators", RoleID: "operator", Users: []string{"alice"}},
			},
		}
	}

	It("should accept a well-formed config", func() {
		Expect(config(
			&rbacv1.AllowedMethod{Name: "Start", Categories: []string{"speech-synthesis"}},
			&rbacv1.AllowedMethod{Name: "Logs", Categories: []string{rbacv1.Wildcard}},
			&rbacv1.AllowedMethod{Name: "List"},
		).Validate(taskService)).To(Succeed())
	})

	DescribeTable("should reject invalid roles",
		func(c *rbacv1.Config, msg string) {
			Expect(c.Validate(taskService)).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown method", config(&rbacv1.AllowedMethod{Name: "Restart"}), `does not contain method "Restart"`),
		Entry("duplicate method", config(
			&rbacv1.AllowedMethod{Name: "List"},
			&rbacv1.AllowedMethod{Name: "List"},
		), `duplicate method name "List"`),
		Entry("scoped method without categories", config(&rbacv1.AllowedMethod{Name: "Start"}), `method "Start" requires categories`),
		Entry("unscoped method with categories", config(&rbacv1.AllowedMethod{Name: "List", Categories: []string{"*"}}), `method "List" does not support categories`),
		Entry("unknown category", config(&rbacv1.AllowedMethod{Name: "Start", Categories: []string{"karaoke"}}), `unknown category "karaoke"`),
		Entry("unknown service", &rbacv1.Config{
			Roles: []*rbacv1.Role{{ID: "r", Service: "voicebox.task.v2.Task"}},
		}, `service "voicebox.task.v2.Task" not found`),
		Entry("duplicate role", &rbacv1.Config{
			Roles: []*rbacv1.Role{
				{ID: "r", Service: taskv1.ServiceName},
				{ID: "r", Service: taskv1.ServiceName},
			},
		}, `duplicate role id "r"`),
	)

	DescribeTable("should reject invalid role bindings",
		func(rb *rbacv1.RoleBinding, msg string) {
			c := config(&rbacv1.AllowedMethod{Name: "List"})
			c.RoleBindings = append(c.RoleBindings, rb)
			Expect(c.Validate(taskService)).To(MatchError(ContainSubstring(msg)))
		},
		Entry("missing role", &rbacv1.RoleBinding{ID: "x", RoleID: "admin", Users: []string{"bob"}}, `role "admin" not found`),
		Entry("no users", &rbacv1.RoleBinding{ID: "x", RoleID: "operator"}, "at least one user"),
		Entry("duplicate id", &rbacv1.RoleBinding{ID: "operators", RoleID: "operator", Users: []string{"bob"}}, `duplicate role binding id "operators"`),
	)
})

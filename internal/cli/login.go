// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/auth"
)

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// RunLogin prompts for credentials, authenticates against the backend, and
// persists the bearer token.
func RunLogin(client *api.Client, store *auth.Store, username string) error {
	if username == "" {
		fmt.Print("用户名: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("用户名不能为空")
	}

	password, err := auth.PromptPassword("密码: ")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	if err := store.Save(auth.Credential{
		Token:    user.Token,
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}); err != nil {
		return fmt.Errorf("保存凭证失败: %w", err)
	}

	fmt.Println(infoStyle.Render("登录成功: " + user.Username))
	return nil
}

// RunLogout clears the saved credential.
func RunLogout(store *auth.Store) error {
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println(infoStyle.Render("已退出登录。"))
	return nil
}

// RunWhoAmI prints the current identity as the backend sees it.
func RunWhoAmI(client *api.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", user.Username, user.Role)
	return nil
}
